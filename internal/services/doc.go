// Package services holds the shared plumbing for external generation
// providers: the sentinel error taxonomy the pipeline classifies retries
// with, and context annotation helpers that thread job/scene/request
// identifiers through provider calls.
//
// Each provider adapter lives in a subpackage (tts, videogen, stitch) and
// exposes a small Client interface with a live HTTP implementation and a
// deterministic stub selected at construction time when no credential is
// configured. Business logic never branches on credential presence.
package services
