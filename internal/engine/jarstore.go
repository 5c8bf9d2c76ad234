package engine

import (
	"context"
	"errors"
	"math/big"
	"slices"

	"PodLedger/internal/types"
	"PodLedger/internal/verification"
)

// jarStore installs a jar paid by its caller. The class loader holds the
// classpath and the dependencies of the jar.
type jarStore struct {
	req     *types.JarStoreRequest
	version uint32               // version is the verification version in force
	skip    bool                 // skip only decodes and links the jar
	result  *verification.Result // result is the verified jar
}

func newJarStore(ctx context.Context, ref types.TransactionReference, req *types.JarStoreRequest, node Node) (Builder, error) {
	params := node.Consensus()
	if len(req.Dependencies) > params.MaxDependencies {
		return nil, types.Rejected("too many dependencies: %d > %d", len(req.Dependencies), params.MaxDependencies)
	}

	classpath := []types.TransactionReference{req.Classpath}
	for _, dep := range req.Dependencies {
		if !slices.Contains(classpath, dep) {
			classpath = append(classpath, dep)
		}
	}

	loader, err := node.ClassLoader(ctx, classpath...)
	if err != nil {
		return nil, rejectUnlessInternal(err, "cannot load the dependencies")
	}

	c := &jarStore{req: req, version: params.VerificationVersion, skip: params.SkipsVerification}

	return asBuilder(newNonInitial(ctx, ref, req, node, c, false, loader))
}

func (c *jarStore) run(e *execution) error {
	model := e.node.CostModel()
	if err := e.payment.ChargeCPU(model.CPUCostForInstallingJar(len(c.req.Jar))); err != nil {
		return err
	}
	if err := e.payment.ChargeRAM(model.RAMCostForInstallingJar(len(c.req.Jar))); err != nil {
		return err
	}

	result, err := e.node.Verifier().Verify(e.ctx, c.req.Jar, loadedJars(e.loader), c.version, verification.Options{SkipRules: c.skip})
	if err != nil {
		var verr *verification.Error
		if errors.As(err, &verr) {
			return err
		}

		return types.Internal(err)
	}

	c.result = result

	return nil
}

func (c *jarStore) respond(o outcome) types.NonInitialResponse {
	resp := types.NewJarStoreResponse(o.result, o.updates, o.gas, penaltyOf(o), o.cause)

	if o.result == types.Successful && c.result != nil {
		resp.InstrumentedJar = c.result.Instrumented
		resp.Dependencies = slices.Clone(c.req.Dependencies)
		resp.VerificationVersion = c.version
	}

	return resp
}

// penaltyOf is nil unless the transaction failed.
func penaltyOf(o outcome) *big.Int {
	if o.result != types.Failed {
		return nil
	}

	return o.penalty
}
