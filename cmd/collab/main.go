// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command collab runs the collaborative editing server and offers offline
// tools for inspecting deltas and configuration.
//
// # Usage
//
//	collab serve --config collab.yaml
//	collab delta apply "Hello" '{"ops":[{"type":"retain","count":5},{"type":"insert","text":"!"}]}'
//	collab config init collab.yaml
//
// # Environment Variables
//
//   - COLLAB_PORT: HTTP port (default: 12300)
//   - COLLAB_LOG_LEVEL: debug, info, warn or error
//   - COLLAB_REDIS_ADDR: Enables the Redis operation log
//   - COLLAB_DATABASE_URL: Enables the Postgres snapshot store
//   - OTEL_EXPORTER_OTLP_ENDPOINT: Enables OTLP trace export
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
