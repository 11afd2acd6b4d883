// Copyright 2026 The Reprocheck Authors
// SPDX-License-Identifier: Apache-2.0

package variation

import (
	"fmt"
	"io/fs"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Builtin returns the registry of built-in variations. The
// registration order is load-bearing twice over: setup commands run in
// this order (build_path must move the tree before fileordering mounts
// over it, home must see the final tree path), and wrapper commands
// nest in this order with earlier entries outermost (user_group's sudo
// must wrap everything so inner wrappers run as the target user).
func Builtin() *Registry {
	registry := NewRegistry()
	registry.Register(&Variation{
		Name:             "user_group",
		EnabledByDefault: true,
		Params: []ParamSpec{
			{Name: "available", Default: SetValue()},
		},
		Tools: []string{"sudo"},
		Plan:  planUserGroup,
	})
	registry.Register(&Variation{
		Name:             "domain_host",
		EnabledByDefault: false,
		Params: []ParamSpec{
			{Name: "use_sudo", Default: IntValue(0)},
		},
		Tools: []string{"unshare", "hostname"},
		Plan:  planDomainHost,
	})
	registry.Register(&Variation{
		Name:             "environment",
		EnabledByDefault: true,
		Plan:             planEnvironment,
	})
	registry.Register(&Variation{
		Name:             "build_path",
		EnabledByDefault: true,
		Plan:             planBuildPath,
	})
	registry.Register(&Variation{
		Name:             "fileordering",
		EnabledByDefault: true,
		Params: []ParamSpec{
			{Name: "tool", Default: StringValue("auto")},
		},
		Tools: []string{"fusermount"},
		Plan:  planFileOrdering,
	})
	registry.Register(&Variation{
		Name:             "aslr",
		EnabledByDefault: true,
		Tools:            []string{"setarch"},
		Plan:             planASLR,
	})
	registry.Register(&Variation{
		Name:             "home",
		EnabledByDefault: true,
		Plan:             planHome,
	})
	registry.Register(&Variation{
		Name:             "kernel",
		EnabledByDefault: true,
		Tools:            []string{"linux32", "linux64"},
		Plan:             planKernel,
	})
	registry.Register(&Variation{
		Name:             "locales",
		EnabledByDefault: true,
		Params: []ParamSpec{
			{Name: "available", Default: SetValue(
				"fr_CH.UTF-8", "es_ES", "ru_RU.CP1251", "kk_KZ.RK1048", "zh_CN")},
		},
		Plan: planLocales,
	})
	registry.Register(&Variation{
		Name:             "exec_path",
		EnabledByDefault: true,
		Plan:             planExecPath,
	})
	registry.Register(&Variation{
		Name:             "num_cpus",
		EnabledByDefault: true,
		AffectsControl:   true,
		Params: []ParamSpec{
			{Name: "min", Default: IntValue(1)},
			{Name: "max", Default: IntValue(0)},
		},
		Tools: []string{"taskset"},
		Plan:  planNumCPUs,
	})
	registry.Register(&Variation{
		Name:             "time",
		EnabledByDefault: true,
		Params: []ParamSpec{
			{Name: "faketimes", Default: SetValue()},
			{Name: "auto_faketimes", Default: SetValue("SOURCE_DATE_EPOCH")},
		},
		Tools: []string{"faketime"},
		Plan:  planTime,
	})
	registry.Register(&Variation{
		Name:             "timezone",
		EnabledByDefault: true,
		Plan:             planTimezone,
	})
	registry.Register(&Variation{
		Name:             "umask",
		EnabledByDefault: true,
		Plan:             planUmask,
	})
	return registry
}

func planEnvironment(params Params, vary bool, ctx *Context) (*Fragment, error) {
	fragment := newFragment("environment")
	if vary {
		fragment.setEnv("REPROCHECK_CAPTURE_ENVIRONMENT", "i_capture_the_environment")
	}
	return fragment, nil
}

// planBuildPath pins the baseline build to the invocation-constant
// directory. Every role's scratch path is unique, so the pin must live
// outside the scratch: ConstDir is the same string for all roles,
// which is what makes a disabled build_path truly identical between
// control and experiment.
func planBuildPath(params Params, vary bool, ctx *Context) (*Fragment, error) {
	fragment := newFragment("build_path")
	if vary {
		return fragment, nil
	}
	constPath := filepath.Join(ctx.ConstDir, "const_build_path")
	fragment.Setup = []Command{
		Exec("mkdir", "-p", ctx.ConstDir),
		Exec("mv", ctx.Tree, constPath),
	}
	fragment.Cleanup = []Command{
		Exec("mv", constPath, ctx.Tree),
		// Artifacts written beside the build tree (dpkg-style ../
		// outputs) land in the constant directory; hand them to the
		// scratch so collection finds them, then leave the constant
		// directory empty for the next role.
		Raw("find " + ctx.ConstDir + " -mindepth 1 -maxdepth 1 -exec mv -t " + ctx.ScratchDir + " {} +"),
		Exec("rmdir", ctx.ConstDir),
	}
	fragment.Tree = constPath
	return fragment, nil
}

func planUserGroup(params Params, vary bool, ctx *Context) (*Fragment, error) {
	fragment := newFragment("user_group")
	if !vary {
		return fragment, nil
	}
	if missing := ctx.MissingTools([]string{"sudo"}); len(missing) > 0 {
		return fragment.skip("sudo not available"), nil
	}
	available := params["available"].Set
	if len(available) == 0 {
		return fragment.skip("no alternate users configured; supply " +
			"user_group.available+=USER1:GROUP1;USER2:GROUP2 or disable with -user_group"), nil
	}

	currentUser := ""
	if u, err := user.Current(); err == nil {
		currentUser = u.Username
	}
	candidates := make([]string, 0, len(available))
	for _, candidate := range available {
		if candidate != currentUser {
			candidates = append(candidates, candidate)
		}
	}
	if len(candidates) == 0 {
		return fragment.skip("all configured users match the current user"), nil
	}
	chosen := candidates[ctx.Rand.Intn(len(candidates))]

	target, group, hasGroup := strings.Cut(chosen, ":")
	sudoArgs := []string{"sudo", "-E"}
	if target != "" {
		sudoArgs = append(sudoArgs, "-u", target)
	} else {
		target = currentUser
	}
	if hasGroup && group != "" {
		sudoArgs = append(sudoArgs, "-g", group)
	}
	fragment.Wrapper = sudoArgs

	// The tree was staged as the invoking user; hand it to the
	// target user for the build and hand it back before artifact
	// collection.
	if target != "" && target != currentUser {
		fragment.Setup = []Command{
			Exec("sudo", "chown", "-h", "-R", "--from="+currentUser, target, ctx.Tree),
		}
		fragment.Cleanup = []Command{
			Exec("sudo", "chown", "-h", "-R", "--from="+target, currentUser, ctx.Tree),
		}
	}
	return fragment, nil
}

func planDomainHost(params Params, vary bool, ctx *Context) (*Fragment, error) {
	fragment := newFragment("domain_host")
	if !vary {
		return fragment, nil
	}
	tools := []string{"unshare", "hostname"}
	useSudo := params["use_sudo"].Int != 0
	if useSudo {
		tools = append(tools, "sudo")
	}
	if missing := ctx.MissingTools(tools); len(missing) > 0 {
		return fragment.skip("missing tools: " + strings.Join(missing, ", ")), nil
	}

	// The hostname and domainname changes must happen inside the
	// fresh UTS namespace, so they are folded into the wrapper
	// rather than emitted as setup commands.
	script := `hostname i-capture-the-hostname
domainname i-capture-the-domainname 2>/dev/null || true
exec "$0" "$@"`
	wrapper := []string{"unshare", "--uts", "sh", "-ec", script}
	if useSudo {
		wrapper = append([]string{"sudo", "-E"}, wrapper...)
	}
	fragment.Wrapper = wrapper
	return fragment, nil
}

func planFileOrdering(params Params, vary bool, ctx *Context) (*Fragment, error) {
	fragment := newFragment("fileordering")
	if !vary {
		return fragment, nil
	}
	if _, err := ctx.ToolPath("fusermount"); err != nil {
		return fragment.skip("fusermount not available"), nil
	}

	tool := params["tool"].Str
	disorderfsPath, disorderfsErr := ctx.ToolPath("disorderfs")
	useBuiltin := false
	switch tool {
	case "disorderfs":
		if disorderfsErr != nil {
			return fragment.skip("disorderfs not available"), nil
		}
	case "builtin":
		useBuiltin = true
	default: // auto
		useBuiltin = disorderfsErr != nil
	}
	if useBuiltin && ctx.Executable == "" {
		return fragment.skip("no ordering shim available (disorderfs missing and " +
			"reprocheck executable path unknown)"), nil
	}

	oldTree := filepath.Join(ctx.ScratchDir, filepath.Base(ctx.Tree)+"-before-orderfs")
	var mount Command
	if useBuiltin {
		seed := ctx.Rand.Int63()
		mount = Exec(ctx.Executable, "orderfs", "--seed="+strconv.FormatInt(seed, 10), oldTree, ctx.Tree)
	} else {
		mount = Exec(disorderfsPath, "-q", "--shuffle-dirents=yes", oldTree, ctx.Tree)
	}
	fragment.Setup = []Command{
		Exec("mv", ctx.Tree, oldTree),
		Exec("mkdir", "-p", ctx.Tree),
		mount,
	}
	fragment.Cleanup = []Command{
		Exec("fusermount", "-u", ctx.Tree),
		Exec("rmdir", ctx.Tree),
		Exec("mv", oldTree, ctx.Tree),
	}
	return fragment, nil
}

// planASLR disables address-space randomization for the control build
// only, so the experiment's randomized layout is the perturbation.
func planASLR(params Params, vary bool, ctx *Context) (*Fragment, error) {
	fragment := newFragment("aslr")
	if vary {
		return fragment, nil
	}
	if _, err := ctx.ToolPath("setarch"); err != nil {
		return fragment, nil
	}
	fragment.Wrapper = []string{"setarch", "-R"}
	return fragment, nil
}

func planHome(params Params, vary bool, ctx *Context) (*Fragment, error) {
	fragment := newFragment("home")
	if vary {
		fragment.setEnv("HOME", fmt.Sprintf("/nonexistent/build-%d", ctx.Role))
	} else {
		// A fixed placeholder, not a session path: the baseline must
		// be byte-identical across roles.
		fragment.setEnv("HOME", "/nonexistent/first-build")
	}
	return fragment, nil
}

// planKernel pins the two roles to explicitly different uname values.
// Pinning both (rather than leaving the control at the host value)
// keeps the variation meaningful when reprocheck is testing itself.
func planKernel(params Params, vary bool, ctx *Context) (*Fragment, error) {
	fragment := newFragment("kernel")
	if vary {
		if _, err := ctx.ToolPath("linux32"); err != nil {
			return fragment.skip("linux32 not available"), nil
		}
		fragment.Wrapper = []string{"linux32"}
		return fragment, nil
	}
	if _, err := ctx.ToolPath("linux64"); err != nil {
		return fragment, nil
	}
	fragment.Wrapper = []string{"linux64", "--uname-2.6"}
	return fragment, nil
}

func planLocales(params Params, vary bool, ctx *Context) (*Fragment, error) {
	fragment := newFragment("locales")
	if !vary {
		fragment.setEnv("LANG", "C.UTF-8")
		fragment.setEnv("LANGUAGE", "en_US:en")
		return fragment, nil
	}
	available := params["available"].Set
	if len(available) == 0 {
		return fragment.skip("locales.available is empty"), nil
	}
	locale := available[ctx.Rand.Intn(len(available))]
	fragment.setEnv("LANG", locale)
	fragment.setEnv("LC_ALL", locale)
	fragment.setEnv("LANGUAGE", locale+":fr")
	return fragment, nil
}

func planExecPath(params Params, vary bool, ctx *Context) (*Fragment, error) {
	fragment := newFragment("exec_path")
	if vary {
		fragment.appendEnv("PATH", "/i_capture_the_path")
	}
	return fragment, nil
}

// planNumCPUs caps the baseline (including the control build, which is
// why this variation carries AffectsControl) to the configured minimum
// CPU count, and gives the experiment the full host count.
func planNumCPUs(params Params, vary bool, ctx *Context) (*Fragment, error) {
	fragment := newFragment("num_cpus")
	if _, err := ctx.ToolPath("taskset"); err != nil {
		if vary {
			return fragment.skip("taskset not available"), nil
		}
		return fragment, nil
	}

	minCPUs := params["min"].Int
	if minCPUs < 1 {
		minCPUs = 1
	}
	cpus := minCPUs
	if vary {
		cpus = ctx.NumCPUs
		if max := params["max"].Int; max > 0 && cpus > max {
			cpus = max
		}
		if cpus <= minCPUs {
			return fragment.skip(fmt.Sprintf(
				"host exposes %d CPU(s), no room to vary above the minimum of %d",
				ctx.NumCPUs, minCPUs)), nil
		}
	}
	fragment.Wrapper = []string{"taskset", "-c", cpuList(cpus)}
	return fragment, nil
}

func cpuList(n int) string {
	if n <= 1 {
		return "0"
	}
	return fmt.Sprintf("0-%d", n-1)
}

// maxFaketimeAge is how far in the past a candidate faketime must be
// before it is preferred over the fixed future offset. Roughly one
// year: recent timestamps interact badly with make(1) and other
// mtime-comparing build systems.
const maxFaketimeAge = 32253180 * time.Second

func planTime(params Params, vary bool, ctx *Context) (*Fragment, error) {
	fragment := newFragment("time")
	if !vary {
		return fragment, nil
	}
	if _, err := ctx.ToolPath("faketime"); err != nil {
		return fragment.skip("faketime not available"), nil
	}
	faketimes := params["faketimes"].Set
	if len(faketimes) == 0 {
		return fragment.skip("no faketimes configured (set time.faketimes or " +
			"leave time.auto_faketimes=SOURCE_DATE_EPOCH to derive one)"), nil
	}

	candidate := faketimes[ctx.Rand.Intn(len(faketimes))]
	faket := "+373days+7hours+13minutes"
	if epoch, ok := strings.CutPrefix(candidate, "@"); ok {
		if seconds, err := strconv.ParseInt(epoch, 10, 64); err == nil {
			if time.Unix(seconds, 0).Before(ctx.Now.Add(-maxFaketimeAge)) {
				// Far enough in the past to be safe.
				faket = candidate
			}
		}
	}

	// faketime also fakes stat(2) results unless told not to, which
	// wrecks timestamp-comparing build systems.
	fragment.setEnv("NO_FAKE_STAT", "1")
	fragment.Wrapper = []string{"faketime", faket}
	return fragment, nil
}

func planTimezone(params Params, vary bool, ctx *Context) (*Fragment, error) {
	fragment := newFragment("timezone")
	if vary {
		fragment.setEnv("TZ", "GMT-14")
	} else {
		fragment.setEnv("TZ", "GMT+12")
	}
	return fragment, nil
}

func planUmask(params Params, vary bool, ctx *Context) (*Fragment, error) {
	fragment := newFragment("umask")
	if vary {
		fragment.Setup = []Command{Raw("umask 0002")}
	} else {
		fragment.Setup = []Command{Raw("umask 0022")}
	}
	return fragment, nil
}

// ApplyDynamicDefaults expands parameter values that depend on the
// source tree. Today that is time.auto_faketimes: the
// SOURCE_DATE_EPOCH entry appends "@<newest source mtime>" to
// time.faketimes, then auto_faketimes is cleared so the expansion is
// not repeated. Returns a new Set; the input is not modified.
func ApplyDynamicDefaults(registry *Registry, set *Set, sourceRoot string) (*Set, error) {
	setting, ok := set.settings["time"]
	if !ok {
		return set, nil
	}
	auto := setting.Params["auto_faketimes"].Set
	if len(auto) == 0 {
		return set, nil
	}

	result := set.Clone()
	resultSetting := result.settings["time"]
	for _, entry := range auto {
		if entry != "SOURCE_DATE_EPOCH" {
			return nil, configErrorf(entry, "unrecognized auto_faketime")
		}
		newest, err := newestModTime(sourceRoot)
		if err != nil {
			return nil, fmt.Errorf("deriving SOURCE_DATE_EPOCH from %s: %w", sourceRoot, err)
		}
		faketimes := resultSetting.Params["faketimes"]
		faketimes.Set = addElements(faketimes.Set, []string{fmt.Sprintf("@%d", newest)})
		resultSetting.Params["faketimes"] = faketimes
	}
	resultSetting.Params["auto_faketimes"] = SetValue()
	return result, nil
}

func newestModTime(root string) (int64, error) {
	var newest int64
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		if mtime := info.ModTime().Unix(); mtime > newest {
			newest = mtime
		}
		return nil
	})
	return newest, err
}
