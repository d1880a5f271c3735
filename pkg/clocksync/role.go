package clocksync

import (
	"fmt"

	"github.com/Resonate-Protocol/lockstep-go/pkg/protocol"
)

// Role is decided once by Init and never changes afterwards
type Role struct {
	master   protocol.Serial
	isMaster bool
}

// MasterRole is the role of the elected node itself
func MasterRole(self protocol.Serial) Role {
	return Role{master: self, isMaster: true}
}

// FollowerRole is the role of every other node
func FollowerRole(master protocol.Serial) Role {
	return Role{master: master}
}

// IsMaster reports whether this node is the reference clock
func (r Role) IsMaster() bool {
	return r.isMaster
}

// Master returns the serial of the elected master
func (r Role) Master() protocol.Serial {
	return r.master
}

func (r Role) String() string {
	if r.isMaster {
		return "master"
	}
	return fmt.Sprintf("follower(master=%d)", r.master)
}
