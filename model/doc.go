// Package model defines the abstraction over the remote streaming
// completion service: a normalized Request, the Streamer interface yielding
// ordered core.StreamEvent values, and a scripted MockStreamer for tests.
// Provider adapters live in the subpackages (anthropic, openai).
package model
