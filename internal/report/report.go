// Package report fills protocol templates with the values of a saved session.
//
// Templates are plain text (CSV, HTML, flat XML exported from a spreadsheet)
// with {{TOKEN}} placeholders. Token names follow the protocol templates the
// metrology department already uses.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"datafill/internal/device"
	"datafill/internal/models"
	"datafill/internal/session"
)

const dateLayout = "02.01.2006"

type Field struct {
	Token string
	Value string
}

// Fields enumerates every placeholder for s. Points are numbered from 1 in
// catalog order; numbers use a decimal comma.
func Fields(s *models.Session, loc *time.Location) ([]Field, error) {
	fam, err := device.Resolve(s.DeviceType, s.SubDeviceType)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", s.ID, err)
	}
	if loc == nil {
		loc = time.Local
	}

	fields := []Field{
		{"{{ПРИБОР}}", s.DeviceName},
		{"{{СЕРИЙНЫЙ_НОМЕР}}", s.SerialNumber},
		{"{{ДАТА_ПОВЕРКИ}}", s.Timestamp.In(loc).Format(dateLayout)},
		{"{{ФАМИЛИЯ_ПОВЕРИТЕЛЯ}}", s.InspectorID},
		{"{{КОД_ZIP}}", s.ZipGroupCode},
		{"{{ВЫВОД}}", session.Overall(s, fam.Points()).String()},
	}

	reading := func(v float64) string { return Number(v, fam.ReadingPrecision) }
	average := func(v float64) string { return Number(v, fam.AveragePrecision) }

	for i, p := range session.OrderByCatalog(s.Points, fam.Points()) {
		n := strconv.Itoa(i + 1)
		tok := func(name string) string { return "{{ТОЧКА_" + n + "_" + name + "}}" }
		fields = append(fields,
			Field{tok("LABEL"), p.Label},
			Field{tok("ЭТАЛОН"), average(p.Reference)},
			Field{tok("ПОПРАВКА"), average(p.Correction)},
			Field{tok("ИЗМ_1"), reading(p.Raw[0])},
			Field{tok("ИЗМ_2"), reading(p.Raw[1])},
			Field{tok("ИЗМ_3"), reading(p.Raw[2])},
			Field{tok("СРЕДНЕЕ"), average(p.Average)},
			Field{tok("ПРЕДЕЛ_НИЖНИЙ"), average(p.LowerLimit)},
			Field{tok("ПРЕДЕЛ_ВЕРХНИЙ"), average(p.UpperLimit)},
			Field{tok("ВЫВОД"), p.Verdict.String()},
		)
		if fam.Device == models.Alcotest {
			fields = append(fields, Field{tok("ЭТАЛОН_MG_L"), average(p.Reference)})
		}
	}
	return fields, nil
}

// Render replaces every known token in template. Unknown tokens are left as they are.
func Render(template string, s *models.Session, loc *time.Location) (string, error) {
	fields, err := Fields(s, loc)
	if err != nil {
		return "", err
	}
	pairs := make([]string, 0, 2*len(fields))
	for _, f := range fields {
		pairs = append(pairs, f.Token, f.Value)
	}
	return strings.NewReplacer(pairs...).Replace(template), nil
}

// FileName is the suggested output name for a rendered protocol.
func FileName(s *models.Session, ext string) string {
	name := strings.Map(func(r rune) rune {
		if strings.ContainsRune(`/\:*?"<>| `, r) {
			return '_'
		}
		return r
	}, "Протокол_"+s.SerialNumber+"_"+s.DeviceName)
	return name + ext
}

// Number formats v with a decimal comma.
func Number(v float64, decimals int) string {
	return strings.Replace(strconv.FormatFloat(v, 'f', decimals, 64), ".", ",", 1)
}

// DefaultTemplate is a plain-text protocol used when no template file is
// configured. It lists points 1..n.
func DefaultTemplate(n int) string {
	var b strings.Builder
	b.WriteString("ПРОТОКОЛ ПОВЕРКИ\n\n")
	b.WriteString("Прибор: {{ПРИБОР}}\n")
	b.WriteString("Серийный номер: {{СЕРИЙНЫЙ_НОМЕР}}\n")
	b.WriteString("Дата поверки: {{ДАТА_ПОВЕРКИ}}\n")
	b.WriteString("Поверитель: {{ФАМИЛИЯ_ПОВЕРИТЕЛЯ}}\n\n")
	b.WriteString("Точка;Эталон;Изм. 1;Изм. 2;Изм. 3;Среднее;Нижний предел;Верхний предел;Вывод\n")
	for i := 1; i <= n; i++ {
		p := "{{ТОЧКА_" + strconv.Itoa(i) + "_"
		b.WriteString(p + "LABEL}};" + p + "ЭТАЛОН}};" + p + "ИЗМ_1}};" + p + "ИЗМ_2}};" + p + "ИЗМ_3}};" +
			p + "СРЕДНЕЕ}};" + p + "ПРЕДЕЛ_НИЖНИЙ}};" + p + "ПРЕДЕЛ_ВЕРХНИЙ}};" + p + "ВЫВОД}}\n")
	}
	b.WriteString("\nЗаключение: {{ВЫВОД}}\n")
	return b.String()
}

// WriteFile renders s into dir and returns the written path. An empty
// templatePath selects DefaultTemplate.
func WriteFile(dir, templatePath string, s *models.Session, loc *time.Location) (string, error) {
	tmpl := DefaultTemplate(len(s.Points))
	ext := ".txt"
	if templatePath != "" {
		data, err := os.ReadFile(templatePath)
		if err != nil {
			return "", fmt.Errorf("failed to read template: %w", err)
		}
		tmpl = string(data)
		ext = filepath.Ext(templatePath)
	}

	out, err := Render(tmpl, s, loc)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}
	path := filepath.Join(dir, FileName(s, ext))
	if err := os.WriteFile(path, []byte(out), 0644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	return path, nil
}
