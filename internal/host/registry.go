package host

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/shirou/gopsutil/v3/process"

	"serviceloader/internal/logger"
)

// externalAppsKey is the Redis hash of identity -> pid for registered applications.
const externalAppsKey = "EXTERNAL_APPS"

// ExternalApplication is one application known to the host.
type ExternalApplication struct {
	UUID string
	PID  int32
	// Detected is true when the entry came from a process scan rather
	// than a registration.
	Detected bool
}

// Registry tracks external applications by identity. Entries whose process
// has exited are dropped when the registry is listed.
type Registry struct {
	client *redis.Client

	// Optional process-name detection: running processes named scanName
	// are reported under scanIdentity even when never registered.
	scanName     string
	scanIdentity string
}

// NewRegistry creates a Registry on client.
func NewRegistry(client *redis.Client) *Registry {
	return &Registry{client: client}
}

// DetectProcess reports any running process named name as identity.
// Matching is case-insensitive on Windows.
func (r *Registry) DetectProcess(name, identity string) {
	r.scanName = name
	r.scanIdentity = identity
}

// Register records identity as running under pid.
func (r *Registry) Register(ctx context.Context, identity string, pid int) error {
	if err := r.client.HSet(ctx, externalAppsKey, identity, pid).Err(); err != nil {
		return fmt.Errorf("Redis HSET %s %s failed: %w", externalAppsKey, identity, err)
	}
	return nil
}

// unregisterScript deletes the field only while it still holds the
// caller's pid, in one step so a concurrent re-registration survives.
var unregisterScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], ARGV[1]) == ARGV[2] then
	return redis.call("HDEL", KEYS[1], ARGV[1])
end
return 0
`)

// Unregister removes identity if it is still recorded under pid. A newer
// registration by another process is left in place.
func (r *Registry) Unregister(ctx context.Context, identity string, pid int) error {
	err := unregisterScript.Run(ctx, r.client, []string{externalAppsKey}, identity, strconv.Itoa(pid)).Err()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("Redis unregister %s %s failed: %w", externalAppsKey, identity, err)
	}
	return nil
}

// ExternalApplications lists the applications currently alive.
func (r *Registry) ExternalApplications(ctx context.Context) ([]ExternalApplication, error) {
	log := logger.WithComponent("registry")

	entries, err := r.client.HGetAll(ctx, externalAppsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("Redis HGETALL %s failed: %w", externalAppsKey, err)
	}

	apps := make([]ExternalApplication, 0, len(entries))
	for identity, rawPID := range entries {
		pid, convErr := strconv.ParseInt(rawPID, 10, 32)
		alive := false
		if convErr == nil {
			alive, err = process.PidExistsWithContext(ctx, int32(pid))
			if err != nil {
				return nil, fmt.Errorf("failed to check pid %d for %s: %w", pid, identity, err)
			}
		}
		if !alive {
			log.Debug().Str("uuid", identity).Str("pid", rawPID).Msg("Pruning stale external application")
			if err := r.client.HDel(ctx, externalAppsKey, identity).Err(); err != nil {
				log.Warn().Err(err).Str("uuid", identity).Msg("Failed to prune stale external application")
			}
			continue
		}
		apps = append(apps, ExternalApplication{UUID: identity, PID: int32(pid)})
	}

	if r.scanName != "" {
		pid, found, err := findProcessByName(ctx, r.scanName)
		if err != nil {
			return nil, err
		}
		if found {
			apps = append(apps, ExternalApplication{UUID: r.scanIdentity, PID: pid, Detected: true})
		}
	}

	return apps, nil
}

// findProcessByName returns the first running process whose executable name matches.
func findProcessByName(ctx context.Context, name string) (int32, bool, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("failed to list processes: %w", err)
	}
	for _, p := range procs {
		if ctx.Err() != nil {
			return 0, false, ctx.Err()
		}
		pname, err := p.NameWithContext(ctx)
		if err != nil || pname == "" {
			continue
		}
		if sameProcessName(pname, name) {
			return p.Pid, true, nil
		}
	}
	return 0, false, nil
}

// sameProcessName compares like the platform does: Windows names are
// case-insensitive, elsewhere they are exact.
func sameProcessName(running, want string) bool {
	if runtime.GOOS == "windows" {
		return strings.EqualFold(running, want)
	}
	return running == want
}
