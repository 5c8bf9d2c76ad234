package node

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"maps"
	"math/big"
	"slices"
	"sync"

	"PodLedger/internal/codec"
	"PodLedger/internal/consensus"
	"PodLedger/internal/logger"
	"PodLedger/internal/runtime"
	"PodLedger/internal/state"
	"PodLedger/internal/types"
	"PodLedger/internal/verification"
)

// verificationErrorClass is the cause of jar responses that failed reverification.
const verificationErrorClass = "core.VerificationError"

// reverification checks the jars of a classpath against the current
// verification version. Jars verified with another version are verified
// again; the rewritten responses stay in an overlay until Replace pushes
// them into the store.
type reverification struct {
	store    *state.Store                         // store holds the jar responses
	params   *consensus.Params                    // params fix version and bounds
	verifier *verification.Verifier               // verifier checks the jars again
	evict    func(ref types.TransactionReference) // evict drops a replaced response from the caches

	done  map[types.TransactionReference]types.Response // done are the visited jars, after reverification
	count int                                           // count is the number of visited jars

	mu      sync.Mutex                                    // mu protects overlay
	overlay map[types.TransactionReference]types.Response // overlay holds the rewritten responses
}

func newReverification(store *state.Store, params *consensus.Params, verifier *verification.Verifier, evict func(types.TransactionReference)) *reverification {
	return &reverification{
		store:    store,
		params:   params,
		verifier: verifier,
		evict:    evict,
		done:     make(map[types.TransactionReference]types.Response),
		overlay:  make(map[types.TransactionReference]types.Response),
	}
}

// jars reverifies the classpath and returns its jars, dependencies first.
func (r *reverification) jars(ctx context.Context, classpath []types.TransactionReference) ([]runtime.LoadedJar, error) {
	for _, ref := range classpath {
		if _, err := r.reverify(ctx, ref); err != nil {
			return nil, err
		}
	}

	var (
		jars []runtime.LoadedJar
		seen = make(map[types.TransactionReference]bool)
	)

	for _, ref := range classpath {
		if err := r.collect(ref, seen, &jars); err != nil {
			return nil, err
		}
	}

	return jars, nil
}

// collect appends the jar of ref after its dependencies.
func (r *reverification) collect(ref types.TransactionReference, seen map[types.TransactionReference]bool, jars *[]runtime.LoadedJar) error {
	if seen[ref] {
		return nil
	}
	seen[ref] = true

	installed, ok := types.InstalledJarOf(r.done[ref])
	if !ok {
		return types.Rejected("the jar installed by %s failed verification", ref.Short())
	}

	for _, dep := range installed.Dependencies {
		if err := r.collect(dep, seen, jars); err != nil {
			return err
		}
	}

	jar, err := codec.DecodeInstrumentedJar(installed.Instrumented)
	if err != nil {
		return types.Inconsistent("instrumented jar of %s: %v", ref, err)
	}

	*jars = append(*jars, runtime.LoadedJar{
		Ref:                 ref,
		Jar:                 jar,
		Size:                len(installed.Instrumented),
		Dependencies:        installed.Dependencies,
		VerificationVersion: installed.VerificationVersion,
	})

	return nil
}

// reverify returns the response of the jar installed by ref, after its
// dependencies and itself have been reverified.
func (r *reverification) reverify(ctx context.Context, ref types.TransactionReference) (types.Response, error) {
	if resp, ok := r.done[ref]; ok {
		return resp, nil
	}

	if r.count++; r.count > r.params.MaxDependencies {
		return nil, types.Rejected("too many dependencies in classpath: max is %d", r.params.MaxDependencies)
	}

	resp, err := r.store.Latest().Response(ref)
	if err != nil {
		if errors.Is(err, types.ErrInternal) {
			return nil, err
		}

		return nil, types.RejectedBy(fmt.Errorf("unknown jar %s: %w", ref.Short(), err))
	}

	installed, ok := types.InstalledJarOf(resp)
	if !ok {
		return nil, types.Rejected("the transaction %s did not install a jar", ref.Short())
	}

	failedDependency := false
	for _, dep := range installed.Dependencies {
		d, err := r.reverify(ctx, dep)
		if err != nil {
			return nil, err
		}

		if _, ok := types.InstalledJarOf(d); !ok {
			failedDependency = true
		}
	}

	var next types.Response

	switch {
	case failedDependency:
		next, err = r.failed(ref, resp, "the reverification of a dependency failed")
	case installed.VerificationVersion == r.params.VerificationVersion:
		next = resp
	default:
		next, err = r.verifyAgain(ctx, ref, resp, installed)
	}

	if err != nil {
		return nil, err
	}

	r.done[ref] = next

	return next, nil
}

// verifyAgain verifies the original bytes of the jar of ref against its
// reverified dependencies.
func (r *reverification) verifyAgain(ctx context.Context, ref types.TransactionReference, resp types.Response, installed types.InstalledJar) (types.Response, error) {
	req, err := r.store.Latest().Request(ref)
	if err != nil {
		return nil, types.Inconsistent("request of jar %s: %v", ref, err)
	}

	var (
		jarBytes []byte
		initial  bool
	)

	switch q := req.(type) {
	case *types.JarStoreInitialRequest:
		jarBytes, initial = q.Jar, true
	case *types.JarStoreRequest:
		jarBytes = q.Jar
	default:
		return nil, types.Inconsistent("jar %s was installed by a %T", ref, req)
	}

	deps, size, err := r.dependencyJars(installed.Dependencies)
	if err != nil {
		return nil, err
	}

	if size+int64(len(jarBytes)) > r.params.MaxCumulativeSizeOfDependencies {
		return nil, types.Rejected("too large cumulative size of dependencies in classpath: max is %d bytes", r.params.MaxCumulativeSizeOfDependencies)
	}

	opts := verification.Options{AllowNative: initial, SkipRules: r.params.SkipsVerification}
	if _, err := r.verifier.Verify(ctx, jarBytes, deps, r.params.VerificationVersion, opts); err != nil {
		var verr *verification.Error
		if !errors.As(err, &verr) {
			return nil, types.Internal(fmt.Errorf("reverify %s:\n%w", ref.Short(), err))
		}

		return r.failed(ref, resp, verr.Error())
	}

	var next types.Response

	switch old := resp.(type) {
	case *types.JarStoreInitialResponse:
		updated := *old
		updated.VerificationVersion = r.params.VerificationVersion
		next = &updated
	case *types.JarStoreResponse:
		updated := *old
		updated.VerificationVersion = r.params.VerificationVersion
		next = &updated
	}

	r.put(ref, next)

	return next, nil
}

// dependencyJars decodes the jars reachable from deps, each once.
func (r *reverification) dependencyJars(deps []types.TransactionReference) ([]*types.Jar, int64, error) {
	var (
		jars  []*types.Jar
		size  int64
		seen  = make(map[types.TransactionReference]bool)
		visit func(ref types.TransactionReference) error
	)

	visit = func(ref types.TransactionReference) error {
		if seen[ref] {
			return nil
		}
		seen[ref] = true

		installed, ok := types.InstalledJarOf(r.done[ref])
		if !ok {
			return types.Inconsistent("dependency %s has no jar", ref)
		}

		for _, dep := range installed.Dependencies {
			if err := visit(dep); err != nil {
				return err
			}
		}

		jar, err := codec.DecodeInstrumentedJar(installed.Instrumented)
		if err != nil {
			return types.Inconsistent("instrumented jar of %s: %v", ref, err)
		}

		jars = append(jars, jar)
		size += int64(len(installed.Instrumented))

		return nil
	}

	for _, dep := range deps {
		if err := visit(dep); err != nil {
			return nil, 0, err
		}
	}

	return jars, size, nil
}

// failed turns the response of ref into a failed jar installation with the
// same updates and gas. The base jar cannot fail.
func (r *reverification) failed(ref types.TransactionReference, resp types.Response, message string) (types.Response, error) {
	old, ok := resp.(*types.JarStoreResponse)
	if !ok {
		return nil, types.Internal(fmt.Errorf("the reverification of the initial jar store transaction %s failed: its jar cannot be used", ref))
	}

	cause := &types.Failure{Class: verificationErrorClass, Message: r.params.TrimError(message)}
	next := types.NewJarStoreResponse(types.Failed, old.UpdateList, old.Gas, new(big.Int), cause)
	r.put(ref, next)

	logger.Warn("jar failed reverification", "ref", ref.Short(), "cause", message)

	return next, nil
}

func (r *reverification) put(ref types.TransactionReference, resp types.Response) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.overlay[ref] = resp
}

// Reverified returns the rewritten response of ref, if any.
func (r *reverification) Reverified(ref types.TransactionReference) (types.Response, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	resp, ok := r.overlay[ref]
	return resp, ok
}

// Replace pushes the rewritten responses into the store and forgets them,
// so that a reused class loader does not push them twice.
func (r *reverification) Replace() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	refs := slices.SortedFunc(maps.Keys(r.overlay), func(a, b types.TransactionReference) int {
		return bytes.Compare(a[:], b[:])
	})

	for _, ref := range refs {
		req, err := r.store.Latest().Request(ref)
		if err != nil {
			return types.Inconsistent("request of reverified jar %s: %v", ref, err)
		}

		if err := r.store.Replace(ref, req, r.overlay[ref]); err != nil {
			return fmt.Errorf("replace %s:\n%w", ref.Short(), err)
		}

		if r.evict != nil {
			r.evict(ref)
		}

		logger.Info("updated after reverification", "ref", ref.Short())
	}

	clear(r.overlay)

	return nil
}
