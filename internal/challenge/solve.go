package challenge

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/GriffinCanCode/cfshim/internal/engine"
)

var (
	v1ChallengeRegex  = regexp.MustCompile(`setTimeout\(function\(\){\s+(var s,t,o,p,b,r,e,a,k,i,n,g,f.+?a\.value =.+?)\r?\n`)
	v1ExpressionRegex = regexp.MustCompile(`var s,t,o,p,b,r,e,a,k,i,n,g,f, (\w+)=\{"(\w+)":\+?(.+?)\};`)
	v1PassRegex       = regexp.MustCompile(`a\.value = (.+?)\.toFixed\(10\)`)
)

// V1Program rebuilds the arithmetic of a classic challenge as a standalone
// script: the seed object, every compound assignment to its key, then the
// expression assigned to a.value. The script expects t to hold the domain.
func V1Program(body []byte) (string, error) {
	m := v1ChallengeRegex.FindSubmatch(body)
	if len(m) < 2 {
		return "", fmt.Errorf("%w: v1 challenge script not found", ErrChallenge)
	}
	script := string(m[1])

	loc := v1ExpressionRegex.FindStringSubmatchIndex(script)
	if loc == nil {
		return "", fmt.Errorf("%w: v1 seed expression not found", ErrChallenge)
	}
	name, key, seed := script[loc[2]:loc[3]], script[loc[4]:loc[5]], script[loc[6]:loc[7]]
	rest := script[loc[1]:]

	pass := v1PassRegex.FindStringSubmatch(rest)
	if len(pass) < 2 {
		return "", fmt.Errorf("%w: v1 pass expression not found", ErrChallenge)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "var %s = {%q: +(%s)};\n", name, key, seed)
	ops := regexp.MustCompile(regexp.QuoteMeta(name+"."+key) + `\s*([-+*/])=\s*([^;]+)`)
	for _, op := range ops.FindAllStringSubmatch(rest, -1) {
		fmt.Fprintf(&b, "%s.%s %s= %s;\n", name, key, op[1], op[2])
	}
	b.WriteString(pass[1])
	return b.String(), nil
}

// SolveV1 evaluates a classic challenge with t bound to domain and returns
// the answer formatted to ten decimal places.
func SolveV1(ctx context.Context, eng engine.Engine, body []byte, domain string) (string, error) {
	program, err := V1Program(body)
	if err != nil {
		return "", err
	}
	literal, err := sonic.MarshalString(domain)
	if err != nil {
		return "", fmt.Errorf("challenge: encode domain: %w", err)
	}

	out, err := eng.Eval(ctx, "var t = "+literal+";\n"+program)
	if err != nil {
		return "", fmt.Errorf("%w: v1 eval: %w", ErrChallenge, err)
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(out), 64)
	if err != nil {
		return "", fmt.Errorf("%w: v1 result %q is not a number", ErrChallenge, out)
	}
	return strconv.FormatFloat(f, 'f', 10, 64), nil
}

// SolveV2 runs the page's challenge scripts and reads jschl-answer.
func SolveV2(ctx context.Context, eng engine.Engine, body []byte, domain, userAgent string) (string, error) {
	scripts := ExtractScripts(body)
	if len(scripts) == 0 {
		return "", fmt.Errorf("%w: v2 challenge scripts not found", ErrChallenge)
	}

	answer, err := eng.Solve(ctx, engine.Job{
		Domain:     domain,
		UserAgent:  userAgent,
		Scripts:    scripts,
		AnswerExpr: engine.DefaultAnswerExpr,
	})
	if err != nil {
		return "", fmt.Errorf("%w: v2: %w", ErrChallenge, err)
	}
	return answer, nil
}
