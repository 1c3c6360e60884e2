/*
Package domain contains the core models of the Parley dialog engine.

It defines flows and their nodes, the per-contact session state and the
outbound intents the engine asks a host to deliver. This package is kept pure
and free of I/O, following Hexagonal Architecture principles.

# Key Entities

  - Flow / Node: a conversation graph (menu, prompt, form, condition, response).
  - FlowGraph: the compiled immutable snapshot shared by concurrent turns.
  - Session: the conversation state of one contact on one connection.
  - OutboundIntent: a message the host delivers (text, media or buttons).
*/
package domain
