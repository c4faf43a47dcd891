// Package format rewrites Markdown produced by language models into the
// lightweight markup WhatsApp renders (*bold*, _italic_, ~strike~,
// `code` and ```blocks```). Structures WhatsApp cannot show, such as
// headings and links, are flattened into readable text.
package format
