// Package agent runs the bounded tool-calling loop against a language model.
//
// # Loop
//
// Each Run starts a fresh Conversation (system prompt, user message) and repeats:
//
//  1. send every turn plus the registry catalog to the Provider
//  2. if the model answered with text only, that text is the answer
//  3. otherwise validate and execute each proposed call, append the results as
//     tool turns in proposal order, and go again
//
// Calls from one model turn execute concurrently under an errgroup limit. Unknown
// tools, bad arguments and backend failures are reported to the model as tool
// turns rather than ending the run. The loop stops after MaxSteps model turns and
// returns what it has with ErrStepCeiling.
//
// # Providers
//
// OpenAI speaks the streamed chat completions protocol used by OpenAI and most
// self-hosted model servers:
//
//	provider, err := agent.NewOpenAI(agent.OpenAIConfig{
//	    BaseURL: "http://localhost:11434/v1",
//	    Model:   "llama3.1",
//	})
//
// # HTTP
//
// Handler exposes POST /api/chat, streaming text deltas as server-sent events.
package agent
