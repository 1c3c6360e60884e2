/*
Package ports defines the driven ports (interfaces) for the Parley engine.

These interfaces decouple the dialog logic from external implementations,
allowing the engine to work with various flow sources, session stores and
messaging channels.

# Key Interfaces

  - FlowRepository: loads flow definitions (YAML, SQL, Loam or Memory).
  - SessionStore: persists conversation sessions.
  - MessageSender: delivers outbound intents to a channel.
  - DocumentSender, DepartmentRouter, AgentRouter: action capabilities.
  - DistributedLocker: coordinates session access across replicas.
*/
package ports
