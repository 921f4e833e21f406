// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

/*
	Package bigrender coordinates rendering across a set of cooperating
	processes so that they present one logical image. A session consists
	of a driver (the process a user interacts with), an optional group
	of render-compute processes, and an optional group of data-holding
	processes. Each process has a fixed role (see package deploy) and
	runs one Synchronizer.

	Every render cycle is bracketed by BeginRender and EndRender. On
	the driver, BeginRender captures the window layout from the window
	registry and sends it to the root of the render group; the root
	packs every logical window into its shared surface (see package
	layout), assigns each renderer its viewport, and rebroadcasts the
	packed layout to its group. After rendering, the root delivers the
	image to the driver (see package delivery), and EndRender
	synchronizes every contributor so that no process begins the next
	cycle before the current frame is drained.

	Server processes do not call BeginRender themselves when render
	propagation is enabled. Instead they run Serve, which dispatches
	the remote triggers issued by the driver: render, window
	registration, depth queries, reductions, and shutdown.

	Layout changes made while a cycle is in progress take effect at the
	next cycle. A process whose peers disagree with it about the set of
	logical windows aborts: continuing would desynchronize every
	subsequent frame. Transfer failures, on the other hand, only cost
	the current frame.
*/
package bigrender
