// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package cluster

import (
	"testing"

	"github.com/grailbio/base/config"
	"github.com/grailbio/bigmachine"
	"github.com/grailbio/bigrender/deploy"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

func TestConfig(t *testing.T) {
	profile := config.New()
	assert.NoError(t, profile.Set("bigrender.tiles-x", "2"))
	assert.NoError(t, profile.Set("bigrender.mullion-x", "8"))
	assert.NoError(t, profile.Set("bigrender.compression-level", "3"))
	assert.NoError(t, profile.Set("bigrender.render-procs", "4"))
	var cfg *Config
	assert.NoError(t, profile.Instance("bigrender", &cfg))
	expect.EQ(t, cfg.Deployment, deploy.Deployment{
		Tiles:            [2]int{2, 0},
		Mullions:         [2]int{8, 0},
		Compress:         true,
		CompressionLevel: 3,
		PropagateRender:  true,
		UpdateRate:       5,
	})
	expect.EQ(t, cfg.RenderProcs, 4)
	expect.EQ(t, cfg.DataProcs, 0)
	if cfg.System != bigmachine.Local {
		t.Errorf("got system %v, want local", cfg.System)
	}
}

func TestConfigInvalid(t *testing.T) {
	profile := config.New()
	assert.NoError(t, profile.Set("bigrender.compression-level", "9"))
	var cfg *Config
	if err := profile.Instance("bigrender", &cfg); err == nil {
		t.Error("expected error")
	}
}
