// Package lock provides distributed locks that keep concurrent portalindex
// instances from rebuilding the same collection at the same time.
package lock

import (
	"fmt"
	"os"

	"github.com/google/uuid"
)

// newOwnerID identifies one lock holder: hostname:pid:random.
func newOwnerID() string {
	hostname, _ := os.Hostname()
	return fmt.Sprintf("%s:%d:%s", hostname, os.Getpid(), uuid.NewString())
}
