/*
Package session serialises turns per conversation.

It guarantees that two turns of the same conversation never interleave, combining an
in-process reference-counted mutex with an optional distributed lock so that several
replicas can share one state store.
*/
package session
