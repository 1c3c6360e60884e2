package cli

import "github.com/aretw0/parley/pkg/ports"

// ChannelSender routes outbound messages by connection: contacts of
// waConnection go to WhatsApp (mirrored to the event streams), every other
// connection only to the streams. A nil wa leaves the streams alone.
func ChannelSender(streams, wa ports.MessageSender, waConnection string) ports.MessageSender {
	if wa == nil {
		return streams
	}
	return ports.RouteByConnection(map[string]ports.MessageSender{
		waConnection: ports.Fanout(streams, wa),
	}, streams)
}
