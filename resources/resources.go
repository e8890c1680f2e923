package resources

import "embed"

//go:embed migrations/*.sql i18n/*.yml captcha/*.yml
var FS embed.FS
