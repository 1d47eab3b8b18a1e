package restwrap

import (
	"context"
	"fmt"
)

// SendBypassingCaptcha sends req and, if the response carries a captcha
// challenge, solves it, adds the token to the body and sends req once more.
//
// The token is written into req.Body in place, so a map[string]any body
// passed by the caller will hold captcha_key afterwards. A nil body is
// replaced by a new map. A second challenge is not solved again; it is
// reported as ErrCaptchaUnresolved.
func (d *Dispatcher) SendBypassingCaptcha(ctx context.Context, sess *Session, req Request) (*Response, error) {
	resp, err := d.send(ctx, sess, req, true)
	challenge, ok := AsCaptchaRequired(err)
	if !ok {
		return resp, err
	}

	if d.solver == nil {
		return nil, fmt.Errorf("%w: %w", ErrNoSolver, challenge)
	}

	d.logger.Log(formatSolveLine(req.Label, challenge), LevelNone, req.logConfig())

	token, err := d.solver.Solve(ctx, challenge.SiteKey, req.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to solve captcha: %w", wrapSolveError(err))
	}

	body, err := injectCaptchaToken(req.Body, token, challenge.RqToken)
	if err != nil {
		return nil, err
	}
	req.Body = body

	resp, err = d.send(ctx, sess, req, true)
	if again, ok := AsCaptchaRequired(err); ok {
		return nil, fmt.Errorf("%w: %w", ErrCaptchaUnresolved, again)
	}
	return resp, err
}

// injectCaptchaToken sets captcha_key (and captcha_rqtoken when the challenge
// issued one) on body.
func injectCaptchaToken(body any, token, rqToken string) (map[string]any, error) {
	var m map[string]any
	switch b := body.(type) {
	case nil:
		m = make(map[string]any)
	case map[string]any:
		m = b
		if m == nil {
			m = make(map[string]any)
		}
	default:
		return nil, fmt.Errorf("%w: %T", ErrBodyNotInjectable, body)
	}

	m[captchaKeyField] = token
	if rqToken != "" {
		m[captchaRqTokenField] = rqToken
	}
	return m, nil
}

// formatSolveLine renders " [+] (label) Solving hcaptcha captcha (sitekey s)",
// with the challenge's rqdata appended when it carried one.
func formatSolveLine(label string, challenge *CaptchaRequiredError) string {
	line := fmt.Sprintf(" [+] %s Solving %s captcha (sitekey %s)", labelText(label), challenge.Service, challenge.SiteKey)
	if challenge.RqData != "" {
		line += " rqdata " + challenge.RqData
	}
	return line
}
