// Package audio encodes and inspects canonical PCM WAV files. It backs the
// fake transcription server and test fixtures; uploads themselves are relayed
// untouched.
package audio
