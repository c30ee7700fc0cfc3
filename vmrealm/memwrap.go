package vmrealm

import (
	"github.com/dop251/goja"

	"github.com/agentfront/enclave/errs"
	"github.com/agentfront/enclave/memaccount"
)

// installMemoryWrappers overrides the allocation-accounted built-ins
// (String.prototype.repeat/padStart/padEnd, Array.prototype.join/fill)
// so that each calls Track with a pre-estimated byte cost before
// delegating to the original implementation, per §4.2's "estimate
// before allocate" contract. Installed via Go-backed __trackBytes so
// the estimate math itself runs in Go (memaccount.Estimate*), while
// the interception point is a short engine-authored JS snippet that
// captures each original method before replacing it.
func (r *Runtime) installMemoryWrappers(acct *memaccount.Accountant) error {
	track := r.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		bytes := call.Argument(0).ToInteger()
		if err := acct.Track(bytes); err != nil {
			panic(r.vm.ToValue(newSealedError(r, string(errs.CodeMemoryLimitExceeded), err.Error())))
		}
		return goja.Undefined()
	})
	// Installed as an ordinary (configurable) property: these two
	// bindings are transient scaffolding, deleted again below once the
	// wrapper closures have captured them.
	if err := r.vm.GlobalObject().Set("__trackBytes", track); err != nil {
		return errs.Wrap(errs.CodeDoubleVMExecutionError, "failed to install memory tracking callback", err)
	}

	estimate := r.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		kind := call.Argument(0).String()
		switch kind {
		case "repeat":
			return r.vm.ToValue(memaccount.EstimateRepeat(int(call.Argument(1).ToInteger()), int(call.Argument(2).ToInteger())))
		case "join":
			lens := call.Argument(1).Export()
			var lengths []int
			if arr, ok := lens.([]any); ok {
				for _, v := range arr {
					if f, ok := v.(int64); ok {
						lengths = append(lengths, int(f))
					} else if f, ok := v.(float64); ok {
						lengths = append(lengths, int(f))
					}
				}
			}
			return r.vm.ToValue(memaccount.EstimateJoin(lengths, int(call.Argument(2).ToInteger())))
		case "pad":
			return r.vm.ToValue(memaccount.EstimatePad(int(call.Argument(1).ToInteger()), int(call.Argument(2).ToInteger())))
		case "fill":
			return r.vm.ToValue(memaccount.EstimateFill(int(call.Argument(1).ToInteger()), int(call.Argument(2).ToInteger())))
		}
		return r.vm.ToValue(int64(0))
	})
	if err := r.vm.GlobalObject().Set("__estimateBytes", estimate); err != nil {
		return errs.Wrap(errs.CodeDoubleVMExecutionError, "failed to install memory estimation callback", err)
	}

	if _, err := r.vm.RunString(memoryWrapperSource); err != nil {
		return errs.Wrap(errs.CodeDoubleVMExecutionError, "failed to install memory-accounted built-in wrappers", err)
	}

	// The callbacks were only needed to build the closures above; drop
	// the global bindings so guest code never sees them directly (the
	// wrapped String/Array methods retain closure references).
	r.vm.GlobalObject().Delete("__trackBytes")
	r.vm.GlobalObject().Delete("__estimateBytes")
	return nil
}

const memoryWrapperSource = `(function(trackBytes, estimateBytes){
	var origRepeat = String.prototype.repeat;
	String.prototype.repeat = function(count) {
		trackBytes(estimateBytes('repeat', this.length, count));
		return origRepeat.call(this, count);
	};

	var origPadStart = String.prototype.padStart;
	String.prototype.padStart = function(target, pad) {
		trackBytes(estimateBytes('pad', this.length, target));
		return origPadStart.call(this, target, pad);
	};

	var origPadEnd = String.prototype.padEnd;
	String.prototype.padEnd = function(target, pad) {
		trackBytes(estimateBytes('pad', this.length, target));
		return origPadEnd.call(this, target, pad);
	};

	var origJoin = Array.prototype.join;
	Array.prototype.join = function(sep) {
		var s = sep === undefined ? ',' : String(sep);
		var lengths = [];
		for (var i = 0; i < this.length; i++) {
			var el = this[i];
			lengths.push(el === null || el === undefined ? 0 : String(el).length);
		}
		trackBytes(estimateBytes('join', lengths, s.length));
		return origJoin.call(this, sep);
	};

	var origFill = Array.prototype.fill;
	Array.prototype.fill = function(value, start, end) {
		var len = this.length;
		var s = start === undefined ? 0 : (start < 0 ? Math.max(len + start, 0) : Math.min(start, len));
		var e = end === undefined ? len : (end < 0 ? Math.max(len + end, 0) : Math.min(end, len));
		trackBytes(estimateBytes('fill', s, e));
		return origFill.call(this, value, start, end);
	};
})(__trackBytes, __estimateBytes)`
