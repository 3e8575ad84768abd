//
//  Copyright © Manetu Inc. All rights reserved.
//

package modules

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/manetu/toolgate/internal/logging"
	"github.com/manetu/toolgate/pkg/core/auxdata"
	"github.com/manetu/toolgate/pkg/core/policyconfig"
	"github.com/manetu/toolgate/pkg/core/types"
)

var logger = logging.GetLogger("toolgate.modules")

const agent = "modules"

type extension struct {
	ext *policyconfig.Extension
}

// NewExtension wraps operator rego rules as a module.  Each message in the query's result set denies the
// request; an evaluation failure also denies.
func NewExtension(ext *policyconfig.Extension) Module {
	return &extension{ext: ext}
}

func (e *extension) Name() types.ModuleName { return types.ModuleExtension }

// regoInput renders the request the way callers wrote it, plus the evaluation instant and any operator
// auxdata.
func regoInput(in *Input, aux map[string]interface{}) (interface{}, error) {
	data, err := json.Marshal(in.Request)
	if err != nil {
		return nil, err
	}
	input := map[string]interface{}{}
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, err
	}
	input["now"] = in.Now.UTC().Format(time.RFC3339)
	input["business_hours"] = in.InBusinessHours
	return auxdata.MergeAuxData(input, aux), nil
}

func (e *extension) fail(msg string) types.ModuleResult {
	return types.ModuleResult{
		Deny:       true,
		Applicable: true,
		Reason:     "extension evaluation failed",
		Violations: []types.Violation{newViolation(types.ModuleExtension, types.ViolationExtensionError, msg)},
	}
}

func (e *extension) Evaluate(ctx context.Context, in *Input) types.ModuleResult {
	input, err := regoInput(in, e.ext.AuxData)
	if err != nil {
		return e.fail(err.Error())
	}

	result, perr := e.ext.Ast.Evaluate(ctx, e.ext.Query, input)
	if perr != nil {
		logger.Warnf(agent, "extension", "evaluation failed: %s", perr.Reason)
		return e.fail(perr.Reason)
	}

	var messages []string
	switch v := result.Expressions[0].Value.(type) {
	case []interface{}:
		for _, m := range v {
			if s, ok := m.(string); ok {
				messages = append(messages, s)
			} else {
				messages = append(messages, fmt.Sprint(m))
			}
		}
	case map[string]interface{}:
		for k := range v {
			messages = append(messages, k)
		}
	default:
		return e.fail(fmt.Sprintf("%s must be a set of messages, got %T", e.ext.Query, v))
	}

	if len(messages) == 0 {
		return types.ModuleResult{Allow: true, Applicable: true, Reason: "no extension rule denied"}
	}

	sort.Strings(messages)
	res := types.ModuleResult{Deny: true, Applicable: true, Reason: messages[0]}
	for _, m := range messages {
		res.Violations = append(res.Violations, newViolation(types.ModuleExtension, types.ViolationExtensionDeny, m))
	}
	return res
}
