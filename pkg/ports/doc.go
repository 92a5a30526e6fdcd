/*
Package ports defines the driven ports (interfaces) for the Parley engine.

These interfaces decouple the dialog core from external implementations, allowing
the engine to work with various storage backends, recognizers, identity providers
and channels.

# Key Interfaces

  - StateStore: Loads records and commits per-turn diffs atomically.
  - DistributedLocker: Serialises turns of one conversation across replicas.
  - Recognizer: Classifies an utterance into an intent.
  - AuthConnection: Obtains, exchanges and revokes third-party tokens.
  - Sender: Delivers committed outbound activities to a channel.
  - TemplateSource / DialogSource: Provide bot content authored outside Go code.
*/
package ports
