package engine

import (
	"context"
	"math/big"
	"slices"

	"PodLedger/internal/corelib"
	"PodLedger/internal/crypto"
	"PodLedger/internal/runtime"
	"PodLedger/internal/types"
	"PodLedger/internal/verification"
)

// rejectAfterInitialization rejects initial requests on an initialized node.
func rejectAfterInitialization(node Node) error {
	init, err := initialized(node)
	if err != nil {
		return err
	}

	if init {
		return types.Rejected("cannot run an initial transaction after initialization")
	}

	return nil
}

// jarStoreInitial installs a jar before initialization. Native jars are
// accepted and verification errors are rejections.
type jarStoreInitial struct {
	req    *types.JarStoreInitialRequest
	node   Node
	loader *runtime.ClassLoader // loader holds the dependencies, nil without them
}

func newJarStoreInitial(ctx context.Context, req *types.JarStoreInitialRequest, node Node) (Builder, error) {
	if err := rejectAfterInitialization(node); err != nil {
		return nil, err
	}

	b := &jarStoreInitial{req: req, node: node}

	if len(req.Dependencies) > 0 {
		loader, err := node.ClassLoader(ctx, req.Dependencies...)
		if err != nil {
			return nil, rejectUnlessInternal(err, "cannot load the dependencies")
		}
		b.loader = loader
	}

	return b, nil
}

func (b *jarStoreInitial) ClassLoader() *runtime.ClassLoader {
	return b.loader
}

func (b *jarStoreInitial) Response(ctx context.Context) (types.Response, error) {
	params := b.node.Consensus()

	result, err := b.node.Verifier().Verify(ctx, b.req.Jar, loadedJars(b.loader), params.VerificationVersion, verification.Options{
		AllowNative: true,
		SkipRules:   params.SkipsVerification,
	})
	if err != nil {
		return nil, rejectUnlessInternal(err, "the jar does not verify")
	}

	return &types.JarStoreInitialResponse{
		InstrumentedJar:     result.Instrumented,
		Dependencies:        slices.Clone(b.req.Dependencies),
		VerificationVersion: params.VerificationVersion,
	}, nil
}

// loadedJars returns the jars of a class loader, nil for a nil loader.
func loadedJars(loader *runtime.ClassLoader) []*types.Jar {
	if loader == nil {
		return nil
	}

	var jars []*types.Jar
	for _, j := range loader.Jars() {
		jars = append(jars, j.Jar)
	}

	return jars
}

// gameteCreation creates the account that holds the initial supply.
type gameteCreation struct {
	ref    types.TransactionReference
	req    *types.GameteCreationRequest
	loader *runtime.ClassLoader
}

func newGameteCreation(ctx context.Context, ref types.TransactionReference, req *types.GameteCreationRequest, node Node) (Builder, error) {
	if err := rejectAfterInitialization(node); err != nil {
		return nil, err
	}

	if req.InitialAmount == nil || req.InitialAmount.Sign() < 0 {
		return nil, types.Rejected("the balance of the gamete cannot be negative")
	}

	if _, err := crypto.DecodePublicKey(req.PublicKey); err != nil {
		return nil, types.Rejected("the public key of the gamete is not base64")
	}

	loader, err := node.ClassLoader(ctx, req.Classpath)
	if err != nil {
		return nil, rejectUnlessInternal(err, "cannot load the classpath %s", req.Classpath.Short())
	}

	return &gameteCreation{ref: ref, req: req, loader: loader}, nil
}

func (b *gameteCreation) ClassLoader() *runtime.ClassLoader {
	return b.loader
}

func (b *gameteCreation) Response(context.Context) (types.Response, error) {
	class, err := b.loader.Class(corelib.Gamete)
	if err != nil {
		return nil, rejectUnlessInternal(err, "the classpath has no gamete class")
	}

	gamete := runtime.NewObject(types.StorageReference{Transaction: b.ref}, class)

	writes := map[types.FieldSignature]types.Value{
		corelib.BalanceField:   types.NewBigIntValue(b.req.InitialAmount),
		corelib.NonceField:     types.NewBigIntValue(big.NewInt(0)),
		corelib.PublicKeyField: types.StringValue(b.req.PublicKey),
	}

	for f, v := range writes {
		if err := gamete.Set(f, v); err != nil {
			return nil, types.Internal(err)
		}
	}

	updates := gamete.Updates()
	slices.SortFunc(updates, types.CompareUpdates)

	return &types.GameteCreationResponse{UpdateList: updates, Gamete: gamete.Ref()}, nil
}

// initialization marks the node as initialized, with the given manifest.
type initialization struct {
	req    *types.InitializationRequest
	loader *runtime.ClassLoader
	node   Node
}

func newInitialization(ctx context.Context, req *types.InitializationRequest, node Node) (Builder, error) {
	if err := rejectAfterInitialization(node); err != nil {
		return nil, err
	}

	loader, err := node.ClassLoader(ctx, req.Classpath)
	if err != nil {
		return nil, rejectUnlessInternal(err, "cannot load the classpath %s", req.Classpath.Short())
	}

	return &initialization{req: req, loader: loader, node: node}, nil
}

func (b *initialization) ClassLoader() *runtime.ClassLoader {
	return b.loader
}

func (b *initialization) Response(context.Context) (types.Response, error) {
	manifest, err := NewDeserializer(b.loader, b.node.Utilities(), nil, nil).Object(b.req.Manifest)
	if err != nil {
		return nil, rejectUnlessInternal(err, "cannot load the manifest")
	}

	if !manifest.Class().IsSubclassOf(corelib.Manifest) {
		return nil, types.Rejected("%s is not a manifest", b.req.Manifest)
	}

	return &types.InitializationResponse{}, nil
}
