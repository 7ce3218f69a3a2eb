// Package model defines the provider-agnostic contract for streaming
// language models used by the agent loop and the consolidator.
//
// Core goals:
//   - One streaming shape (Delta) regardless of vendor
//   - Tool calls delivered complete, after argument fragments were aggregated
//   - Uniform failure classification (auth, timeout, generic)
//   - Lightweight scripted mocking for tests (MockClient)
//
// Providers (openai, gemini, anthropic) implement Client so higher layers
// stay decoupled from vendor SDKs.
package model
