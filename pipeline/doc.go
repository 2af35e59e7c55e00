/*
Package pipeline implements the low-level stages that turn a live capture
into bounded, ordered byte regions.

The stages communicate with channels of type Chunk. A Chunk is a region of
a capture stream, either a small sub-buffer produced by a Chunker or a
larger upload part produced by Coalesce.

A Chunker adapts a push-based data callback into a channel of Chunks with a
deterministic end: once OnStop has returned, nothing else is ever sent and
the channel is closed exactly once. Split is the pure transformation used by
the Chunker and can be used without any event dispatch at all.

Stages that can fail take an errors channel that they report nonfatal errors
on. It is generally sufficient to create a single errors channel and pass it
to all stages. Ensure that you drain the errors channel though, or your
pipeline will block on the first error that it encounters.
*/
package pipeline
