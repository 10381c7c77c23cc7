// Package autograd implements reverse-mode automatic differentiation: a
// topological walk of the implicit tape every tensor op builds (package
// tensor's Op variants), followed by a reverse accumulation pass into a
// GradStore.
package autograd

import (
	"log/slog"

	"github.com/tensorcore/tensorcore/tensor"
)

// GradStore maps a tensor's id to its accumulated gradient. Returned by
// Backward; the caller looks up gradients for whichever Variables it cares
// about.
type GradStore struct {
	grads map[tensor.ID]*tensor.Tensor
}

func newGradStore() *GradStore {
	return &GradStore{grads: make(map[tensor.ID]*tensor.Tensor)}
}

// Get returns the gradient recorded for t, or (nil, false) if none was
// accumulated (t did not participate in the differentiated computation).
func (g *GradStore) Get(t *tensor.Tensor) (*tensor.Tensor, bool) {
	return g.GetByID(t.Id())
}

// GetByID looks a gradient up directly by tensor id.
func (g *GradStore) GetByID(id tensor.ID) (*tensor.Tensor, bool) {
	v, ok := g.grads[id]
	return v, ok
}

// Remove deletes and returns any gradient recorded for t, the pattern an
// optimizer step uses to drain a GradStore as it consumes it.
func (g *GradStore) Remove(t *tensor.Tensor) (*tensor.Tensor, bool) {
	v, ok := g.grads[t.Id()]
	delete(g.grads, t.Id())
	return v, ok
}

func (g *GradStore) insert(t *tensor.Tensor, grad *tensor.Tensor) {
	g.grads[t.Id()] = grad
}

// accumulate adds contribution into whatever gradient t already has on
// file (or sets it, the first time t is visited), summing contributions
// from every consumer of t.
func (g *GradStore) accumulate(t *tensor.Tensor, contribution *tensor.Tensor) error {
	existing, ok := g.grads[t.Id()]
	if !ok {
		g.grads[t.Id()] = contribution
		return nil
	}
	summed, err := existing.Add(contribution)
	if err != nil {
		return err
	}
	g.grads[t.Id()] = summed
	return nil
}

// sortedNodes returns the tensors reachable from root in an order where
// every tensor appears after all of its consumers (i.e. reverse
// topological order suitable for backward accumulation). A subtree whose
// only path to root passes through an Affine with Mul==0 is never
// visited, because OpAffine is simply never recorded for Mul==0 (see
// tensor.Affine), so the producing Op pointer is nil and traversal stops
// there naturally.
func sortedNodes(root *tensor.Tensor) []*tensor.Tensor {
	visited := make(map[tensor.ID]bool)
	var order []*tensor.Tensor

	var visit func(t *tensor.Tensor)
	visit = func(t *tensor.Tensor) {
		if visited[t.Id()] {
			return
		}
		visited[t.Id()] = true
		for _, parent := range parents(t) {
			visit(parent)
		}
		order = append(order, t)
	}
	visit(root)

	// order is currently children-before-parents-of-children (post-order
	// from the recursive visit, which appends a node only after all of its
	// dependencies); reverse it so root comes first and leaves last.
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
	return order
}

// parents returns the direct inputs of t's producing Op, or nil for a leaf.
func parents(t *tensor.Tensor) []*tensor.Tensor {
	switch op := t.Op().(type) {
	case tensor.OpBinary:
		return []*tensor.Tensor{op.Lhs, op.Rhs}
	case tensor.OpUnary:
		return []*tensor.Tensor{op.X}
	case tensor.OpCmp:
		return []*tensor.Tensor{op.X}
	case tensor.OpReduce:
		return []*tensor.Tensor{op.X}
	case tensor.OpMatmul:
		return []*tensor.Tensor{op.A, op.B}
	case tensor.OpGather:
		return []*tensor.Tensor{op.X, op.Idx}
	case tensor.OpScatterAdd:
		return []*tensor.Tensor{op.Init, op.Idx, op.Src}
	case tensor.OpIndexSelect:
		return []*tensor.Tensor{op.X, op.Idx}
	case tensor.OpIndexAdd:
		return []*tensor.Tensor{op.Init, op.Idx, op.Src}
	case tensor.OpWhereCond:
		return []*tensor.Tensor{op.Pred, op.T, op.F}
	case tensor.OpConv1D:
		return []*tensor.Tensor{op.Arg, op.Kernel}
	case tensor.OpConv2D:
		return []*tensor.Tensor{op.Arg, op.Kernel}
	case tensor.OpAvgPool2D:
		return []*tensor.Tensor{op.Arg}
	case tensor.OpMaxPool2D:
		return []*tensor.Tensor{op.Arg}
	case tensor.OpUpsampleNearest2D:
		return []*tensor.Tensor{op.Arg}
	case tensor.OpCat:
		return op.Args
	case tensor.OpAffine:
		return []*tensor.Tensor{op.Arg}
	case tensor.OpToDType:
		return []*tensor.Tensor{op.Arg}
	case tensor.OpCopy:
		return []*tensor.Tensor{op.Arg}
	case tensor.OpBroadcast:
		return []*tensor.Tensor{op.Arg}
	case tensor.OpNarrow:
		return []*tensor.Tensor{op.Arg}
	case tensor.OpReshape:
		return []*tensor.Tensor{op.Arg}
	case tensor.OpToDevice:
		return []*tensor.Tensor{op.Arg}
	case tensor.OpTranspose:
		return []*tensor.Tensor{op.Arg}
	case tensor.OpElu:
		return []*tensor.Tensor{op.Arg}
	case tensor.OpCustomOp1:
		return []*tensor.Tensor{op.Arg}
	case tensor.OpCustomOp2:
		return []*tensor.Tensor{op.Arg1, op.Arg2}
	case tensor.OpCustomOp3:
		return []*tensor.Tensor{op.Arg1, op.Arg2, op.Arg3}
	default:
		return nil
	}
}

// Backward runs reverse-mode differentiation from root. root need not be
// scalar: the seed gradient is ones_like(root), matching candle's
// Tensor::backward, so a non-scalar root simply starts every element of
// its own gradient at 1 rather than requiring the caller to reduce to a
// scalar first. It returns a GradStore holding the accumulated gradient
// of every Variable reachable from root; gradients of non-variable
// tensors are removed as they are propagated and do not appear in it.
func Backward(root *tensor.Tensor) (*GradStore, error) {
	slog.Debug("autograd backward start", "root", root)

	nodes := sortedNodes(root)
	store := newGradStore()

	seed, err := onesLike(root)
	if err != nil {
		return nil, err
	}
	store.insert(root, seed)

	for _, node := range nodes {
		// Variables are leaves: keep their accumulated gradient on file and
		// do not propagate past them (they have no producing Op that
		// sortedNodes would have traversed into anyway). Non-variable
		// intermediates are consumed: popped off the store as they're
		// propagated, so only Variables (and the root, if itself a
		// Variable) remain in the returned GradStore.
		if node.IsVariable() {
			continue
		}
		grad, ok := store.Remove(node)
		if !ok {
			continue
		}
		if err := propagate(store, node, grad); err != nil {
			return nil, err
		}
	}

	slog.Debug("autograd backward done", "nodes", len(nodes))
	return store, nil
}

func onesLike(t *tensor.Tensor) (*tensor.Tensor, error) {
	zero, err := t.Affine(0, 1)
	if err != nil {
		return nil, err
	}
	return zero, nil
}
