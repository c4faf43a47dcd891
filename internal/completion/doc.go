// Package completion produces assistant replies from a conversation history.
//
// Completer is the capability the router depends on. Client implements it
// against any OpenAI-compatible chat completions endpoint (Groq by default):
//
//	client := completion.NewClient(completion.Options{APIKey: key})
//	reply, err := client.Complete(ctx, completion.Request{
//	    SystemPrompt: "You are a helpful WhatsApp assistant.",
//	    History:      history,
//	})
//
// Provider failures are returned as *Error.
package completion
