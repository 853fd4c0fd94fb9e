package app

import (
	"github.com/vk/relenvgo/internal/cmdrun"
	"github.com/vk/relenvgo/internal/recipe"
	"github.com/vk/relenvgo/modules/autotools"
	"github.com/vk/relenvgo/modules/finalize"
	"github.com/vk/relenvgo/modules/openssl"
	"github.com/vk/relenvgo/modules/platform"
	"github.com/vk/relenvgo/modules/python"
)

// coreModules is the definitive list of build modules compiled into the
// relenvgo binary.
func coreModules(goos string, runner cmdrun.Runner) []recipe.Module {
	return []recipe.Module{
		&platform.Module{GOOS: goos},
		&autotools.Module{Runner: runner},
		&openssl.Module{GOOS: goos, Runner: runner},
		&python.Module{GOOS: goos, Runner: runner},
		&finalize.Module{GOOS: goos, Runner: runner},
	}
}
