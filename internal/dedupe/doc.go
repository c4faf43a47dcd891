// Package dedupe remembers recently seen webhook delivery keys so that
// events redelivered by the WhatsApp gateway are processed once.
package dedupe
