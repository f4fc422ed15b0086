package portal

// Portal page selectors
const (
	selEmail        = "input[name='email']"
	selPassword     = "input[name='password']"
	selSubmit       = "button[type='submit']"
	selLoggedIn     = ".header__name, .dashboard, .user-menu, [data-testid='user-menu'], .header__user"
	selBoardTable   = "section.content__table table tbody"
	selBoardRows    = "tbody tr.table__row"
	selBoardCells   = "td.table__data"
	selDetailLink   = "a[href*='interpreter-jobs/'], a.table__link, a[href*='/jobs/']"
	selTypeCell     = "td.table__data.type, td[data-label*='Type'], td[data-label*='type']"
	selRowAccept    = ".btn.btn--primary.table__btn"
	sel24HourModal  = "#24HourModal"
	sel24HourButton = "#24HourModal #continueButton"
	selCancelModal  = "#cancelModal"
	selCancelText   = "#cancelModal textarea[name='message']"
	selCancelSubmit = "#cancelModal .modal-footer .btn.btn--primary"

	emptyBoardText = "There are no interpreter jobs"
	acceptMessage  = "Accepting job via automation"
	rejectMessage  = "Declining job via automation: not a remote appointment"
)

// loginURLHints are URL fragments that indicate an authenticated page when the
// post-login selector never appears
var loginURLHints = []string{"dashboard", "jobs", "interpreter"}
