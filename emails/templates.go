package emails

import (
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
)

var plainTemplate = texttemplate.Must(texttemplate.New("plain").Parse(
	`Hello,

Click the link below to sign in. The link is valid for a few minutes and can
only be used once.

{{.VerificationURL}}

If you did not request this email you can safely ignore it.
`))

var htmlTemplate = htmltemplate.Must(htmltemplate.New("html").Parse(
	`<html>
<body>
<p>Hello,</p>
<p>Click the link below to sign in. The link is valid for a few minutes and can only be used once.</p>
<p><a href="{{.VerificationURL}}">Sign in</a></p>
<p>If you did not request this email you can safely ignore it.</p>
</body>
</html>
`))

// RenderVerification renders the plain-text and HTML bodies for a
// verification email.
func RenderVerification(verificationURL string) (plain string, html string, err error) {
	data := struct{ VerificationURL string }{VerificationURL: verificationURL}

	var plainBuf strings.Builder
	if err := plainTemplate.Execute(&plainBuf, data); err != nil {
		return "", "", fmt.Errorf("rendering plain body: %w", err)
	}
	var htmlBuf strings.Builder
	if err := htmlTemplate.Execute(&htmlBuf, data); err != nil {
		return "", "", fmt.Errorf("rendering html body: %w", err)
	}
	return plainBuf.String(), htmlBuf.String(), nil
}
