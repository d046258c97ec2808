package main

import (
	"log"

	"github.com/ucip/netstack/auth"
	"github.com/ucip/netstack/ppp"
)

// linkCallbacks is the minimal ppp.Callbacks implementation this demo
// plugs in for its one link. The LCP/IPCP/PAP option-negotiation state
// machines are out of scope (spec.md §1: "assume a library"); this struct
// stands in for that library with the simplest policy that lets the demo
// come up unattended — treat the link as established the moment the
// framer reports activity, and accept any PAP credential through
// secrets, the same explicit-not-default choice auth.AlwaysAllow names.
type linkCallbacks struct {
	name    string
	secrets auth.SecretStore
}

func (c *linkCallbacks) LinkUp() {
	log.Printf("%s: link up", c.name)
}

func (c *linkCallbacks) LinkDown() {
	log.Printf("%s: link down", c.name)
}

func (c *linkCallbacks) LinkEstablished() {
	log.Printf("%s: established", c.name)
}

func (c *linkCallbacks) LinkTerminated() {
	log.Printf("%s: terminated", c.name)
}

func (c *linkCallbacks) SetSendConfig(asyncmap uint32, pcomp, accomp bool) {
	log.Printf("%s: peer asked send asyncmap=%#x pcomp=%v accomp=%v", c.name, asyncmap, pcomp, accomp)
}

func (c *linkCallbacks) SetRecvConfig(asyncmap uint32, pcomp, accomp bool) {
	log.Printf("%s: we require recv asyncmap=%#x pcomp=%v accomp=%v", c.name, asyncmap, pcomp, accomp)
}

func (c *linkCallbacks) SetVJ(enabled bool) {
	log.Printf("%s: VJ compression enabled=%v", c.name, enabled)
}

func (c *linkCallbacks) NPUp(protocol int) {
	log.Printf("%s: network protocol %#x up", c.name, protocol)
}

func (c *linkCallbacks) NPDown(protocol int) {
	log.Printf("%s: network protocol %#x down", c.name, protocol)
}

// authenticate is the PAP callback a real LCP/PAP FSM would invoke once it
// parses an Authenticate-Request off the wire (original_source/src/
// netauth.c's upap_rauthreq); kept here, unused by the framer directly,
// as the one hook a full negotiator needs from this package.
func (c *linkCallbacks) authenticate(user, password string) bool {
	ok := c.secrets.Check(user, password)
	log.Printf("%s: PAP login user=%q accepted=%v", c.name, user, ok)
	return ok
}

var _ ppp.Callbacks = (*linkCallbacks)(nil)
