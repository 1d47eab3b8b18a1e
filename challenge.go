package restwrap

import (
	"github.com/tidwall/gjson"
)

// Challenge payload fields. All three must be present for a response to
// count as challenged.
const (
	captchaKeyField     = "captcha_key"
	captchaSiteKeyField = "captcha_sitekey"
	captchaServiceField = "captcha_service"
	captchaRqDataField  = "captcha_rqdata"
	captchaRqTokenField = "captcha_rqtoken"
)

// CheckCaptcha returns a *CaptchaRequiredError when resp's body is a JSON
// object carrying captcha_key, captcha_sitekey and captcha_service. Bodies
// that are not JSON objects, or only carry some of the fields, pass.
func CheckCaptcha(resp *Response) error {
	if resp == nil || !gjson.ValidBytes(resp.Body) {
		return nil
	}
	doc := gjson.ParseBytes(resp.Body)
	if !doc.IsObject() {
		return nil
	}

	key := doc.Get(captchaKeyField)
	siteKey := doc.Get(captchaSiteKeyField)
	service := doc.Get(captchaServiceField)
	if !key.Exists() || !siteKey.Exists() || !service.Exists() {
		return nil
	}

	return &CaptchaRequiredError{
		SiteKey:  siteKey.String(),
		Service:  service.String(),
		RqData:   doc.Get(captchaRqDataField).String(),
		RqToken:  doc.Get(captchaRqTokenField).String(),
		Response: resp,
	}
}
