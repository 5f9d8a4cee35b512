package forms

// View is the state of the entry page forms when they are re-rendered after a failed
// submission: the active tab, the submitted email and inline field errors.
type View struct {
	// Form is the form that was submitted; FieldErrors belong to it.
	Form        string
	Tab         string
	Email       string
	FieldErrors map[string]string
	// Notice is an error toast shown with the page (throttling).
	Notice string
}

// ViewFor builds the re-render state for form from a failed Result.
func ViewFor[T any](form, email string, r Result[T]) View {
	return View{Form: form, Tab: TabFor(form), Email: email, FieldErrors: r.FieldErrors}
}

// TabFor maps a form to the entry page tab that holds it. The magic-link form sits under
// the sign-in tab.
func TabFor(form string) string {
	if form == SignUp {
		return SignUp
	}
	return SignIn
}
