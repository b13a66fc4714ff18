// Package aiproxy implements the AI-backed features that sit behind the
// credit gate: resume generation, cover letters, LinkedIn profile
// rewrites, inline suggestions, career planning and salary negotiation
// prep.
//
// The handlers are deliberately thin. They validate input, call the chat
// model, and return the completion; affordability and charging belong to
// pkg/gate, which wraps every handler here. A handler signals "do not
// charge" simply by responding non-2xx.
package aiproxy
