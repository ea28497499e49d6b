package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usenabla-com/nabla-runners/internal/buildsys"
)

func kinds(strategies []Strategy) []Kind {
	out := make([]Kind, len(strategies))
	for i, s := range strategies {
		out[i] = s.Kind
	}
	return out
}

func TestAnalyzePlatformIOPackageInstallFailure(t *testing.T) {
	errText := "Error: Could not install package 'framework-arduinoespressif32' for PlatformIO"

	got := Analyze(errText, buildsys.SystemPlatformIO)
	require.Len(t, got, 3)
	assert.Equal(t, VersionDowngrade("5.4.0"), got[0])
	assert.Equal(t, ArchitectureSwitch("amd64"), got[1])
	assert.Equal(t, KindConfigPatch, got[2].Kind)
	assert.Contains(t, got[2].Patch, "platform_packages")
}

func TestAnalyzePlatformIOHostArch(t *testing.T) {
	got := Analyze("no prebuilt toolchain for linux_x86_64", buildsys.SystemPlatformIO)
	require.Len(t, got, 1)
	assert.Equal(t, ArchitectureSwitch("arm64"), got[0])
}

func TestAnalyzeCMakeRules(t *testing.T) {
	got := Analyze("CMake Error: Could not find CMAKE_C_COMPILER compiler", buildsys.SystemCMake)
	assert.Equal(t, []Kind{KindToolchainFallback, KindToolchainFallback}, kinds(got))
	assert.Equal(t, "gcc", got[0].Toolchain)
	assert.Equal(t, "clang", got[1].Toolchain)

	got = Analyze("CMAKE_TOOLCHAIN_FILE not set", buildsys.SystemCMake)
	require.Len(t, got, 1)
	assert.Contains(t, got[0].Patch, "CMAKE_TOOLCHAIN_FILE")

	got = Analyze("No such file or directory: CMakeCache.txt", buildsys.SystemCMake)
	require.Len(t, got, 1)
	assert.Equal(t, KindConfigPatch, got[0].Kind)
	assert.Empty(t, got[0].Patch, "empty patch is the cache-clear signal")
}

func TestAnalyzeMakefileRules(t *testing.T) {
	got := Analyze("/bin/sh: gcc: No such file or directory", buildsys.SystemMakefile)
	require.Len(t, got, 1)
	assert.Equal(t, DependencyResolution("build-essential", "gcc-arm-none-eabi"), got[0])

	got = Analyze("make: /dev/mem: Permission denied", buildsys.SystemMakefile)
	require.Len(t, got, 1)
	assert.Equal(t, ArchitectureSwitch("privileged"), got[0])
}

func TestAnalyzeZephyrRules(t *testing.T) {
	got := Analyze("west: command not found", buildsys.SystemZephyrWest)
	require.Len(t, got, 1)
	assert.Equal(t, DependencyResolution("west"), got[0])

	got = Analyze("ZEPHYR_BASE is unset", buildsys.SystemZephyrWest)
	require.Len(t, got, 1)
	assert.Equal(t, "/opt/zephyr", got[0].Patch["ZEPHYR_BASE"])

	got = Analyze("board nucleo_f411re not supported", buildsys.SystemZephyrWest)
	require.Len(t, got, 1)
	assert.Equal(t, "qemu_x86", got[0].Patch["board"])
}

func TestAnalyzeSTM32Rules(t *testing.T) {
	got := Analyze("arm-none-eabi-gcc: command not found", buildsys.SystemSTM32Cube)
	require.Len(t, got, 1)
	assert.Equal(t, DependencyResolution("gcc-arm-none-eabi"), got[0])

	got = Analyze("make: STM32Make.make: No such file", buildsys.SystemSTM32Cube)
	// Both the missing-compiler heuristic and the missing-makefile one
	// stay independent; only the makefile rule fires here.
	require.Len(t, got, 1)
	assert.Equal(t, ToolchainFallback("Makefile"), got[0])
}

func TestAnalyzeSConsRules(t *testing.T) {
	got := Analyze("scons: not found", buildsys.SystemSCons)
	require.Len(t, got, 1)
	assert.Equal(t, DependencyResolution("scons"), got[0])

	got = Analyze("ImportError: python module missing", buildsys.SystemSCons)
	require.Len(t, got, 1)
	assert.Equal(t, ToolchainFallback("python3"), got[0])
}

// Unrecognized text returns nil, distinguishing "nothing to try" from
// an empty proposal list.
func TestAnalyzeNoRuleFires(t *testing.T) {
	for _, system := range buildsys.Systems() {
		assert.Nil(t, Analyze("segmentation fault (core dumped)", system), string(system))
	}
}

// Analyze is pure: repeated calls with identical input agree exactly.
func TestAnalyzeDeterminism(t *testing.T) {
	errText := "Could not install package framework-arduinoespressif32 on linux_x86_64"
	first := Analyze(errText, buildsys.SystemPlatformIO)
	for range 10 {
		assert.Equal(t, first, Analyze(errText, buildsys.SystemPlatformIO))
	}
}
