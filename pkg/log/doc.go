/*
Package log provides structured logging for the storage server using
zerolog: JSON or console output, configurable level, and context loggers
that tag the identifiers this system actually passes around — coid, tid,
and server number — instead of generic node/service/task ids.

# Usage

Initializing the logger:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Component and context loggers:

	storageLog := log.WithComponent("storage")
	storageLog.Info().Msg("server listening")

	prepareLog := log.WithComponent("coordinator").
		With().Logger()
	prepareLog.Debug().
		Str("tid", tid.String()).
		Str("coid", coid.String()).
		Msg("prepare voted yes")

	log.WithTid(tid).Warn().Msg("prepare voted no: conflict detected")
	log.WithCoid(coid).Debug().Msg("split enqueued")
	log.WithServer(serverno).Debug().Msg("cache report applied")

# Integration points

  - pkg/coordinator: write-on-prepare piggyback discards
  - pkg/storage: recovery progress, shutdown
  - pkg/api: per-RPC request logging (LoggingInterceptor)
  - cmd/yesqlkv: server startup and shutdown

pkg/disklog, pkg/btree and pkg/cache do not log.

Never log secrets or raw value payloads; log identifiers and sizes.
*/
package log
