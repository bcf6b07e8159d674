package storage

import "testing"

// TestNormalizeCron проверяет дополнение пятипольных выражений полем
// секунд и отклонение мусора.
func TestNormalizeCron(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "30 8 * * *", want: "0 30 8 * * *"},
		{in: "0 30 8 * * *", want: "0 30 8 * * *"},
		{in: "*/10 * * * * *", want: "*/10 * * * * *"},
		{in: "  0 9 * * 1  ", want: "0 0 9 * * 1"},
		{in: "", wantErr: true},
		{in: "61 * * * *", wantErr: true},
		{in: "raz dva tri chetyre pyat", wantErr: true},
	}
	for _, c := range cases {
		got, err := NormalizeCron(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("NormalizeCron(%q): ожидалась ошибка", c.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("NormalizeCron(%q): неожиданная ошибка: %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("NormalizeCron(%q) = %q, ожидалось %q", c.in, got, c.want)
		}
	}
}
