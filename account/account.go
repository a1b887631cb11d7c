// Package account provides the services the daemon ships with: a public
// health probe and the protected account profile.
package account

import (
	"errors"
	"time"

	"authz-rpc/address"
	"authz-rpc/procedure"
	"authz-rpc/rpcctx"
	"authz-rpc/store"
)

// Registrar is satisfied by *server.Server.
type Registrar interface {
	RegisterName(name string, rcvr any, proc *procedure.Procedure) error
}

// Register registers Health as public and Account as protected.
func Register(r Registrar, c *procedure.Classifier) error {
	if err := r.RegisterName("Health", NewHealth(), c.Public()); err != nil {
		return err
	}
	return r.RegisterName("Account", &Service{}, c.Protected())
}

type Health struct {
	started time.Time
}

func NewHealth() *Health {
	return &Health{started: time.Now()}
}

type PingArgs struct{}

type PingReply struct {
	Status        string `json:"status"`
	Authenticated bool   `json:"authenticated"`
	Uptime        string `json:"uptime"`
}

// Ping answers with or without a session.
func (h *Health) Ping(rc *rpcctx.Context, _ *PingArgs, reply *PingReply) error {
	reply.Status = "ok"
	reply.Authenticated = rc.Session() != nil
	reply.Uptime = time.Since(h.started).Round(time.Second).String()
	return nil
}

type Service struct{}

type ProfileArgs struct{}

type Profile struct {
	Address   string     `json:"address"`
	UserID    string     `json:"userId,omitempty"`
	Name      string     `json:"name,omitempty"`
	Email     string     `json:"email,omitempty"`
	Image     string     `json:"image,omitempty"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
}

// Profile returns the caller's identity, merged with the stored account row
// when a store is configured. With the default configuration it runs before
// the address check, so it only reads.
func (s *Service) Profile(rc *rpcctx.Context, _ *ProfileArgs, reply *Profile) error {
	sess := rc.Session()
	if sess == nil || sess.User == nil {
		return nil
	}
	u := sess.User
	reply.Address, reply.UserID, reply.Name, reply.Email, reply.Image = u.Address, u.ID, u.Name, u.Email, u.Image

	addr, err := address.Parse(u.Address)
	if err != nil {
		return nil
	}
	st := rc.Store()
	if st == nil {
		return nil
	}
	acc, err := st.AccountByAddress(rc.Context(), addr.Common().Hex())
	if errors.Is(err, store.ErrNotFound) {
		rc.Logger().Debug("No stored account", "address", addr)
		return nil
	}
	if err != nil {
		return err
	}
	reply.UserID = acc.UserID
	reply.CreatedAt = &acc.CreatedAt
	return nil
}
