// Copyright (C) 2025 Appcues (support@appcues.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command appcuesctl exercises the SDK from the terminal: identify a
// user, send events, and render experiences as console output.
//
// Usage:
//
//	appcuesctl --config appcues.yaml identify user-1
//	appcuesctl --config appcues.yaml track button_tapped
//	appcuesctl --config appcues.yaml screen Home
//	appcuesctl --config appcues.yaml show 4f0c…-uuid
package main

import (
	"log"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}
