// Package auth implements the policy side of PPP PAP authentication: given
// a username and password offered by a dialing peer, decide whether to
// accept the link. The PAP finite state machine itself (timers, retry
// counts, NAK-and-drop-after-N-attempts) is out of scope per spec.md §1
// ("the LCP/IPCP option negotiation state machines... assume a library");
// this package is the one piece spec.md §9 Open Question 4 calls out by
// name as needing an explicit policy rather than a silent default.
package auth

import (
	"io"

	"github.com/gocarina/gocsv"
)

// SecretStore decides whether a (user, password) pair offered over PAP
// should be accepted. Check is called from the PPP link's control-protocol
// goroutine and must not block for long — implementations backed by a
// network call or disk lookup should apply their own timeout.
type SecretStore interface {
	Check(user, password string) bool
}

// alwaysAllow is check_passwd in original_source/src/netauth.c: it accepts
// every credential unconditionally ("ret = UPAP_AUTHACK; /* XXX Assume all
// entries OK. */"). Kept as an explicit, named policy — not a fallback
// default — so a caller has to choose it deliberately.
type alwaysAllow struct{}

func (alwaysAllow) Check(user, password string) bool { return true }

// AlwaysAllow is the backdoor policy the original shipped with: every PAP
// login succeeds. Suitable only for a closed point-to-point link where the
// peer's identity is already established out of band (e.g. a dedicated
// serial cable), never for anything dial-in or shared.
var AlwaysAllow SecretStore = alwaysAllow{}

// StaticStore is a fixed, in-memory username/password table — the
// supplemented, non-backdoor alternative to AlwaysAllow, for callers that
// do want real PAP enforcement. It does not implement the "secrets file on
// disk" lookup original_source/src/netauth.c performs (persistent storage
// is a Non-goal, spec.md §1); entries are provided by the caller at
// construction, e.g. loaded from stack.Config.
type StaticStore map[string]string

// Check reports whether user exists in the table with exactly password.
func (s StaticStore) Check(user, password string) bool {
	want, ok := s[user]
	return ok && want == password
}

// secretRecord is one row of the CSV file LoadCSV reads: "user,password".
// gocsv maps columns onto this by the csv struct tag, the same marshalling
// path original_source's inetdiag/structs_test.go sibling and cmd/csvtool
// used for their own row-shaped data before this repo dropped the tcp_info
// collection code that owned them.
type secretRecord struct {
	User     string `csv:"user"`
	Password string `csv:"password"`
}

// LoadCSV builds a StaticStore from a "user,password" CSV file, the
// supplemented on-disk counterpart of original_source/src/netauth.c's
// secrets-file lookup (spec.md's Non-goals exclude persistent storage
// generally, but a flat credentials file read once at startup is not a
// storage subsystem, just configuration).
func LoadCSV(r io.Reader) (StaticStore, error) {
	var records []secretRecord
	if err := gocsv.Unmarshal(r, &records); err != nil {
		return nil, err
	}
	store := make(StaticStore, len(records))
	for _, rec := range records {
		store[rec.User] = rec.Password
	}
	return store, nil
}
