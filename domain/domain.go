package domain

// Connection is one participant's link to a room. Send must be safe for
// concurrent use.
type Connection interface {
	ID() string
	Room() string
	Send(data []byte) error
	Close() error
}

type Hub interface {
	Register(conn Connection)
	Unregister(conn Connection)
	Stats() (rooms, clients int)
}

type MessageHandler interface {
	Handle(conn Connection, data []byte)
}
