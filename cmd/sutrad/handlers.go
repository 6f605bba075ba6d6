package main

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sutraworks/sutra/pkg/broadcast"
	"github.com/sutraworks/sutra/pkg/capability"
	"github.com/sutraworks/sutra/pkg/core"
	"github.com/sutraworks/sutra/pkg/executor"
)

const daemonVersion = "0.3.0"

// registerBuiltinHandlers installs the kernel command handlers. All
// command logic lives here behind the broadcast engine — the API and
// CLI surfaces only parse and submit.
func registerBuiltinHandlers(exec *executor.Executor, reg *broadcast.Registry, caps *capability.Set, clock core.Clock, log *zap.Logger) {
	bootAt := time.Now()

	must := func(err error) {
		if err != nil {
			// Handler registration happens once at boot; a failure here
			// is a programming error.
			panic(err)
		}
	}

	must(reg.Register(core.ConceptStatus, func(core.Intent) broadcast.Result {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		return broadcast.Handle(fmt.Sprintf("up %s, heap %dMB, goroutines %d",
			time.Since(bootAt).Round(time.Second), m.HeapAlloc>>20, runtime.NumGoroutine()))
	}, "sys.status", broadcast.Options{Priority: 128}))

	must(reg.Register(core.ConceptTime, func(i core.Intent) broadcast.Result {
		return broadcast.Handle(fmt.Sprintf("monotonic %dµs, wall %s",
			i.Timestamp, time.Now().Format(time.RFC3339)))
	}, "sys.time", broadcast.Options{Priority: 128}))

	must(reg.Register(core.ConceptMemory, func(core.Intent) broadcast.Result {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		return broadcast.Handle(fmt.Sprintf("heap %dMB, sys %dMB, gc cycles %d",
			m.HeapAlloc>>20, m.Sys>>20, m.NumGC))
	}, "sys.memory", broadcast.Options{Priority: 128}))

	must(reg.Register(core.ConceptVersion, func(core.Intent) broadcast.Result {
		return broadcast.Handle("sutrad " + daemonVersion + " (" + runtime.Version() + ")")
	}, "sys.version", broadcast.Options{Priority: 128}))

	must(reg.Register(core.ConceptHelp, func(core.Intent) broadcast.Result {
		return broadcast.Handle("known commands: status, time, memory, version, temperature, refresh, clear, undo, redo, reboot, shutdown")
	}, "sys.help", broadcast.Options{Priority: 128}))

	must(reg.Register(core.ConceptTemp, func(i core.Intent) broadcast.Result {
		v, err := exec.ReadTemperature(i.Timestamp)
		if err != nil {
			return broadcast.Result{Kind: broadcast.HandlerError, Err: err}
		}
		return broadcast.Handle(fmt.Sprintf("%d.%d°C", v/1000, (v%1000)/100))
	}, "sys.temperature", broadcast.Options{Priority: 128, RequiredCap: capability.KindTemperature}))

	must(reg.Register(core.ConceptUndo, func(i core.Intent) broadcast.Result {
		if c, ok := exec.Undo(i.Timestamp); ok {
			return broadcast.Handle("undid " + conceptLabel(c))
		}
		return broadcast.Handle("nothing to undo")
	}, "sys.undo", broadcast.Options{Priority: 128}))

	must(reg.Register(core.ConceptRedo, func(i core.Intent) broadcast.Result {
		if c, ok := exec.Redo(i.Timestamp); ok {
			return broadcast.Handle("redid " + conceptLabel(c))
		}
		return broadcast.Handle("nothing to redo")
	}, "sys.redo", broadcast.Options{Priority: 128}))

	must(reg.Register(core.ConceptClear, func(core.Intent) broadcast.Result {
		return broadcast.Handle("\x1b[2J\x1b[H")
	}, "sys.clear", broadcast.Options{Priority: 128}))

	must(reg.Register(core.ConceptRefresh, func(core.Intent) broadcast.Result {
		return broadcast.Handle("refreshed")
	}, "sys.refresh", broadcast.Options{Priority: 128}))

	// Reboot and shutdown only acknowledge: the daemon leaves process
	// lifecycle to its supervisor. Refractory keeps a bouncing key from
	// spamming the channel.
	must(reg.Register(core.ConceptReboot, func(core.Intent) broadcast.Result {
		return broadcast.Handle("reboot requested; deferring to supervisor")
	}, "sys.reboot", broadcast.Options{Priority: 192, RefractoryMicros: 50_000}))

	must(reg.Register(core.ConceptShutdown, func(core.Intent) broadcast.Result {
		return broadcast.Handle("shutdown requested; deferring to supervisor")
	}, "sys.shutdown", broadcast.Options{Priority: 192, RefractoryMicros: 50_000}))

	// Diagnostic channel observer: everything the core reports about
	// itself lands in the log.
	now := clock.NowMicros()
	hasRing := func(k capability.Kind) bool { return caps.Has(k, now) }
	must(reg.RegisterWildcard(func(i core.Intent) broadcast.Result {
		if i.Concept.Domain() == core.DomainSystem && i.Concept != core.Wildcard {
			switch i.Concept {
			case core.ConceptDiagHandlerFault, core.ConceptDiagDeadline,
				core.ConceptDiagLoadShed, core.ConceptDiagQuarantine,
				core.ConceptDiagCapabilityDeny, core.ConceptDiagParserMiss:
				log.Warn("diagnostic intent",
					zap.String("concept", conceptLabel(i.Concept)),
					zap.String("payload", i.Payload.Text),
					zap.Uint64("at", i.Timestamp))
			}
		}
		return broadcast.Pass()
	}, 0, "sys.diag-observer", hasRing))
}

// conceptLabel renders a concept for humans: canonical name when
// registered, hex otherwise.
func conceptLabel(c core.ConceptID) string {
	if name := core.ConceptName(c); name != "" {
		return name
	}
	return "0x" + strings.ToUpper(strconv.FormatUint(uint64(c), 16))
}

// readHostTemperature reads the SoC thermal zone when the host exposes
// one (millidegrees, Linux sysfs).
func readHostTemperature() (uint32, bool) {
	data, err := os.ReadFile("/sys/class/thermal/thermal_zone0/temp")
	if err != nil {
		return 0, false
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || v < 0 {
		return 0, false
	}
	return uint32(v), true
}
