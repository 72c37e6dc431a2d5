package kasaHub

import "context"

type Credentials struct {
	Username string
	Password string
}

// Discoverer opens a hub handle at an address.
type Discoverer interface {
	Discover(ctx context.Context, address string, creds *Credentials) (Hub, error)
}

// Hub is a connected hub handle.
type Hub interface {
	Update(ctx context.Context) error
	Children() []Child
	Close() error
}

// ChangeNotifier is implemented by hubs that learn about device changes
// between polls. A receive on Changes means a refresh is due.
type ChangeNotifier interface {
	Changes() <-chan struct{}
}

// AttrSource exposes loosely typed readings by attribute name.
type AttrSource interface {
	Attr(name string) (any, bool)
}

// Child is a device managed by the hub.
type Child interface {
	AttrSource
	Update(ctx context.Context) error
	Modules() ModuleTable
	Features() []Feature
}

// Module is a capability of a child. Setters are discovered by interface
// assertion, see commands.go.
type Module interface {
	AttrSource
}

// ModuleTable maps module keys to modules. Keys are either ModuleKey values,
// a library specific string type, or plain strings.
type ModuleTable map[any]Module

// Feature is a generic reading exposed outside the typed modules.
type Feature struct {
	Id    string
	Name  string
	Value any
}
