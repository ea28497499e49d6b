package strategy

import (
	"strings"

	"github.com/usenabla-com/nabla-runners/internal/buildsys"
)

// Analyze maps raw build tool error text to candidate remediation
// strategies for the given build system. It is pure: identical input
// always yields the identical strategy list. A nil return means no
// rule fired and the failure is not recoverable by retrying.
func Analyze(errText string, system buildsys.System) []Strategy {
	switch system {
	case buildsys.SystemPlatformIO:
		return analyzePlatformIO(errText)
	case buildsys.SystemCMake:
		return analyzeCMake(errText)
	case buildsys.SystemMakefile:
		return analyzeMakefile(errText)
	case buildsys.SystemZephyrWest:
		return analyzeZephyr(errText)
	case buildsys.SystemSTM32Cube:
		return analyzeSTM32(errText)
	case buildsys.SystemSCons:
		return analyzeSCons(errText)
	default:
		return nil
	}
}

func analyzePlatformIO(errText string) []Strategy {
	var out []Strategy

	if strings.Contains(errText, "Could not install package") &&
		strings.Contains(errText, "framework-arduinoespressif32") {
		out = append(out,
			VersionDowngrade("5.4.0"),
			ArchitectureSwitch("amd64"),
			ConfigPatch(map[string]string{
				"platform_packages": "framework-arduinoespressif32@3.20014.231204",
			}),
		)
	}

	if strings.Contains(errText, "linux_x86_64") {
		out = append(out, ArchitectureSwitch("arm64"))
	}

	return out
}

func analyzeCMake(errText string) []Strategy {
	var out []Strategy

	if strings.Contains(errText, "Could not find") && strings.Contains(errText, "compiler") {
		out = append(out, ToolchainFallback("gcc"), ToolchainFallback("clang"))
	}

	if strings.Contains(errText, "CMAKE_TOOLCHAIN_FILE") {
		out = append(out, ConfigPatch(map[string]string{
			"CMAKE_TOOLCHAIN_FILE": "/usr/local/share/cmake/toolchain.cmake",
		}))
	}

	if strings.Contains(errText, "No such file or directory") &&
		strings.Contains(errText, "CMakeCache.txt") {
		// Empty patch clears the stale cache.
		out = append(out, ConfigPatch(nil))
	}

	return out
}

func analyzeMakefile(errText string) []Strategy {
	var out []Strategy

	if strings.Contains(errText, "No such file or directory") &&
		(strings.Contains(errText, "gcc") || strings.Contains(errText, "make")) {
		out = append(out, DependencyResolution("build-essential", "gcc-arm-none-eabi"))
	}

	if strings.Contains(errText, "Permission denied") {
		out = append(out, ArchitectureSwitch("privileged"))
	}

	return out
}

func analyzeZephyr(errText string) []Strategy {
	var out []Strategy

	if strings.Contains(errText, "west") && strings.Contains(errText, "not found") {
		out = append(out, DependencyResolution("west"))
	}

	if strings.Contains(errText, "ZEPHYR_BASE") {
		out = append(out, ConfigPatch(map[string]string{"ZEPHYR_BASE": "/opt/zephyr"}))
	}

	if strings.Contains(errText, "board") && strings.Contains(errText, "not supported") {
		out = append(out, ConfigPatch(map[string]string{"board": "qemu_x86"}))
	}

	return out
}

func analyzeSTM32(errText string) []Strategy {
	var out []Strategy

	if strings.Contains(errText, "arm-none-eabi-gcc") {
		out = append(out, DependencyResolution("gcc-arm-none-eabi"))
	}

	if strings.Contains(errText, "STM32Make.make") {
		out = append(out, ToolchainFallback("Makefile"))
	}

	return out
}

func analyzeSCons(errText string) []Strategy {
	var out []Strategy

	if strings.Contains(errText, "scons") && strings.Contains(errText, "not found") {
		out = append(out, DependencyResolution("scons"))
	}

	if strings.Contains(errText, "python") {
		out = append(out, ToolchainFallback("python3"))
	}

	return out
}
