package summa

import "testing"

func FuzzValidateCommandEnvelope(f *testing.F) {
	f.Add("id", CmdPlay, int64(1), "from", "{}")
	f.Add("", "", int64(0), "", "")

	f.Fuzz(func(t *testing.T, id string, typ string, ts int64, from string, body string) {
		cmd := CommandEnvelope{
			ID:   id,
			Type: typ,
			TS:   ts,
			From: from,
			Body: []byte(body),
		}
		_ = ValidateCommandEnvelope(cmd)
	})
}

func FuzzDecodeBook(f *testing.F) {
	f.Add(`{"id":"1","title":"t"}`)
	f.Add(`null`)
	f.Add(`[]`)

	f.Fuzz(func(t *testing.T, body string) {
		book, ok, err := DecodeBook([]byte(body))
		if ok && (err != nil || book.ID == "") {
			t.Fatalf("ok book must have an id and no error")
		}
	})
}
