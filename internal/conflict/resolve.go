// Package conflict resolves divergent copies of a flash by last-write-wins.
package conflict

import "github.com/prudhvinik1/flashsync/internal/models"

type Resolution string

const (
	ResolutionLocal  Resolution = "local"
	ResolutionServer Resolution = "server"
)

type Result struct {
	Winner     models.Flash
	Resolution Resolution
}

// Resolve picks the copy with the strictly greater version. Equal versions
// go to the server copy. The result depends only on the two inputs.
func Resolve(local, server models.Flash) Result {
	if local.Version.After(server.Version) {
		return Result{Winner: local, Resolution: ResolutionLocal}
	}
	return Result{Winner: server, Resolution: ResolutionServer}
}
