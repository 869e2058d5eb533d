// Path: internal/services/export_service.go
package services

import (
	"encoding/csv"
	"html/template"
	"io"
	"strconv"

	"braibit-api/internal/ledger"
	"braibit-api/internal/models"
	"braibit-api/pkg/utils"
)

const hashedSecret = "(hashed)"

var csvHeader = []string{"nickname", "name", "group", "secret", "balance"}

var printTemplate = template.Must(template.New("print").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>BraiBit credentials{{if .Group}} - {{.Group}}{{end}}</title>
<style>
body { font-family: sans-serif; font-size: 14pt; }
table { border-collapse: collapse; width: 100%; }
th, td { border: 1px solid #000; padding: 6px 10px; text-align: left; }
</style>
</head>
<body>
<h1>BraiBit credentials{{if .Group}} - {{.Group}}{{end}}</h1>
<p>Tutor: {{.Tutor}} &middot; Generated at {{.GeneratedAt}}</p>
<table>
<thead><tr><th>Nickname</th><th>Name</th><th>Group</th><th>Secret</th><th>Balance</th></tr></thead>
<tbody>
{{range .Rows}}<tr><td>{{.Nickname}}</td><td>{{.Name}}</td><td>{{.Group}}</td><td>{{.Secret}}</td><td>{{.Balance}}</td></tr>
{{end}}</tbody>
</table>
</body>
</html>
`))

type exportRow struct {
	Nickname string
	Name     string
	Group    string
	Secret   string
	Balance  string
}

// ExportService renders a tutor's students with their login secrets.
type ExportService interface {
	StudentsCSV(w io.Writer, claims *models.Claims, group string) (int, error)
	StudentsPrint(w io.Writer, claims *models.Claims, group string) (int, error)
}

type exportService struct {
	ledger *ledger.Ledger
}

// NewExportService creates a new ExportService.
func NewExportService(l *ledger.Ledger) ExportService {
	return &exportService{ledger: l}
}

func (s *exportService) rows(claims *models.Claims, group string) ([]exportRow, error) {
	if claims.Role != models.RoleTutor {
		return nil, forbidden("only tutors can export credentials")
	}
	students := ownedStudents(s.ledger, claims.AccountID, group)
	rows := make([]exportRow, 0, len(students))
	for _, st := range students {
		secret := st.Secret
		if isHashed(secret) {
			secret = hashedSecret
		}
		rows = append(rows, exportRow{
			Nickname: st.Nickname,
			Name:     st.Name,
			Group:    st.Group,
			Secret:   secret,
			Balance:  st.Balance.String(),
		})
	}
	return rows, nil
}

// StudentsCSV writes one row per student and returns the number of rows.
func (s *exportService) StudentsCSV(w io.Writer, claims *models.Claims, group string) (int, error) {
	rows, err := s.rows(claims, group)
	if err != nil {
		return 0, err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return 0, &AppError{Code: 500, Message: "Failed to write export", Details: err.Error(), Err: err}
	}
	for _, r := range rows {
		if err := cw.Write([]string{r.Nickname, r.Name, r.Group, r.Secret, r.Balance}); err != nil {
			return 0, &AppError{Code: 500, Message: "Failed to write export", Details: err.Error(), Err: err}
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, &AppError{Code: 500, Message: "Failed to write export", Details: err.Error(), Err: err}
	}
	return len(rows), nil
}

// StudentsPrint renders the same rows as a printable HTML page.
func (s *exportService) StudentsPrint(w io.Writer, claims *models.Claims, group string) (int, error) {
	rows, err := s.rows(claims, group)
	if err != nil {
		return 0, err
	}

	tutor := strconv.Itoa(claims.AccountID)
	if acc, ok := s.ledger.Account(claims.AccountID); ok {
		tutor = acc.Name
	}

	data := struct {
		Group       string
		Tutor       string
		GeneratedAt string
		Rows        []exportRow
	}{
		Group:       group,
		Tutor:       tutor,
		GeneratedAt: utils.GetCurrentTimestamp(),
		Rows:        rows,
	}
	if err := printTemplate.Execute(w, data); err != nil {
		return 0, &AppError{Code: 500, Message: "Failed to render print view", Details: err.Error(), Err: err}
	}
	return len(rows), nil
}
