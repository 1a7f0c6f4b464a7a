package taskname

const (
	// Validation tasks
	LicenseValidateRun = "license:validate:run"
	LicenseValidateOne = "license:validate:one"

	// Grace period tasks
	LicenseGraceRun = "license:grace:run"

	// Notification tasks
	NotificationDispatch = "notification:dispatch"
)
