package rbac

const (
	PermQuestionCreate = "question:create"
	PermQuestionEdit   = "question:edit"
	PermQuestionView   = "question:view"

	PermAttemptCreate  = "attempt:create"
	PermAttemptSave    = "attempt:save"
	PermAttemptSubmit  = "attempt:submit"
	PermAttemptViewOwn = "attempt:view-own"
	PermAttemptViewAll = "attempt:view-all"
	PermAttemptGrade   = "attempt:grade"
)

// Default policy. Authors manage the bank and grade; learners take attempts.
var RolePermissions = map[string][]string{
	"student": {
		PermAttemptCreate,
		PermAttemptSave,
		PermAttemptSubmit,
		PermAttemptViewOwn,
	},
	"teacher": {
		"question:*",
		PermAttemptViewAll,
		PermAttemptGrade,
	},
	"admin": {
		"*", // everything
	},
}
