package tlsx

import "crypto/tls"

// Registry owns the client-role and server-role session tables of one
// reactor.
type Registry struct {
	client *Table
	server *Table
}

func NewRegistry(maxFD int) *Registry {
	return &Registry{
		client: NewTable(RoleClient, maxFD),
		server: NewTable(RoleServer, maxFD),
	}
}

func (r *Registry) Client() *Table {
	return r.client
}

func (r *Registry) Server() *Table {
	return r.server
}

func (r *Registry) ConnectStep(fd int, cfg *tls.Config) error {
	return r.client.Step(fd, cfg)
}

func (r *Registry) AcceptStep(fd int, cfg *tls.Config) error {
	return r.server.Step(fd, cfg)
}

// Shutdown ends the client session on fd.
func (r *Registry) Shutdown(fd int) error {
	return r.client.Close(fd)
}

// Close ends the server session on fd.
func (r *Registry) Close(fd int) error {
	return r.server.Close(fd)
}

func (r *Registry) Len() int {
	return r.client.Len() + r.server.Len()
}

func (r *Registry) Destroy() {
	r.client.Destroy()
	r.server.Destroy()
}
