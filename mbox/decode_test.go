package mbox

import (
	"encoding/base64"
	"mime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/patchtrack/model"
)

const coverLetter = `From 566155e00ab72541ff0ac21eab84d087b0e882a5 Mon Sep 17 00:00:00 2001
Message-Id: <pull.12345.v17.git.gitgitgadget@example.com>
From:   =?utf-8?B?w4Z2YXIgQXJuZmrDtnLDsA==?= Bjarmason <avarab@gmail.com>
Date: Fri, 21 Sep 2001 12:34:56 +0000
Subject: [PATCH 0/3] My first Pull Request!
Fcc: Sent
Content-Type: text/plain; charset=UTF-8
Content-Transfer-Encoding: 8bit
MIME-Version: 1.0
To: reviewer@example.com
Cc: Some Body <somebody@example.com>,
 And Somebody Else <somebody@else.org>

This Pull Request contains some really important changes that I would love to
have included in git.git.

base-commit: 0ae4d8d45ce43d7ad56faff2feeacf8ed5293518
`

// withBody replaces the transfer encoding, content type and body of the
// cover letter.
func withBody(transferEncoding, contentType, body string) string {
	head, _, _ := strings.Cut(coverLetter, "\n\n")
	head = strings.Replace(head, "Content-Transfer-Encoding: 8bit", "Content-Transfer-Encoding: "+transferEncoding, 1)
	head = strings.Replace(head, "Content-Type: text/plain; charset=UTF-8", "Content-Type: "+contentType, 1)
	return head + "\n\n" + body
}

func TestDecode_CoverLetter(t *testing.T) {
	msg := Decode([]byte(coverLetter))

	assert.Equal(t, "Ævar Arnfjörð Bjarmason <avarab@gmail.com>", msg.From)
	assert.Equal(t, "reviewer@example.com", msg.To)
	assert.Equal(t, []string{
		"Some Body <somebody@example.com>",
		"And Somebody Else <somebody@else.org>",
	}, msg.Cc)
	assert.Equal(t, "[PATCH 0/3] My first Pull Request!", msg.Subject)
	assert.Equal(t, "pull.12345.v17.git.gitgitgadget@example.com", msg.ID)
	assert.Equal(t, 2001, msg.Date.Year())
	assert.True(t, strings.HasPrefix(msg.Body, "This Pull Request contains"))
	assert.True(t, strings.HasSuffix(msg.Body, "0ae4d8d45ce43d7ad56faff2feeacf8ed5293518\n"))

	assert.Equal(t, []model.Header{
		{Key: "Message-Id", Value: "<pull.12345.v17.git.gitgitgadget@example.com>"},
		{Key: "Date", Value: "Fri, 21 Sep 2001 12:34:56 +0000"},
		{Key: "Fcc", Value: "Sent"},
		{Key: "Content-Type", Value: "text/plain; charset=UTF-8"},
		{Key: "Content-Transfer-Encoding", Value: "8bit"},
		{Key: "MIME-Version", Value: "1.0"},
	}, msg.Headers)
	assert.Equal(t, "text/plain; charset=UTF-8", msg.Header("content-type"))
	assert.NotEmpty(t, msg.Hash)
	assert.Equal(t, int64(len(coverLetter)), msg.Size)
}

func TestDecode_WithoutEnvelope(t *testing.T) {
	_, rest, _ := strings.Cut(coverLetter, "\n")
	withEnvelope := Decode([]byte(coverLetter))
	without := Decode([]byte(rest))

	assert.Equal(t, withEnvelope.From, without.From)
	assert.Equal(t, withEnvelope.Subject, without.Subject)
	assert.Equal(t, withEnvelope.Headers, without.Headers)
	assert.Equal(t, withEnvelope.Body, without.Body)
}

func TestDecode_CRLF(t *testing.T) {
	msg := Decode([]byte(strings.ReplaceAll(coverLetter, "\n", "\r\n")))

	assert.Equal(t, "Ævar Arnfjörð Bjarmason <avarab@gmail.com>", msg.From)
	assert.Len(t, msg.Cc, 2)
	assert.Equal(t, "reviewer@example.com", msg.To)
	assert.True(t, strings.HasPrefix(msg.Body, "This Pull Request contains"))
}

func TestDecode_UnfoldsContinuationLines(t *testing.T) {
	raw := "Subject: [PATCH v2 1/2] a very long subject\n" +
		"\t  that was folded\n" +
		"  twice\n" +
		"X-Empty:\n" +
		"\n" +
		"body\n"
	msg := Decode([]byte(raw))

	assert.Equal(t, "[PATCH v2 1/2] a very long subject that was folded twice", msg.Subject)
	assert.Equal(t, []model.Header{{Key: "X-Empty", Value: ""}}, msg.Headers)
	assert.Equal(t, "body\n", msg.Body)
}

func TestDecode_CcLists(t *testing.T) {
	raw := "Cc: \"Doe, Jane\" <jane@example.com>, bob@example.com\n" +
		"Cc: <weird,local@example.com>\n" +
		"\n"
	msg := Decode([]byte(raw))

	assert.Equal(t, []string{
		`"Doe, Jane" <jane@example.com>`,
		"bob@example.com",
		"<weird,local@example.com>",
	}, msg.Cc)
}

func TestDecode_FirstOccurrenceWins(t *testing.T) {
	raw := "From: first@example.com\nFrom: second@example.com\nSubject: one\nSubject: two\nTo: a@example.com\nTo: b@example.com\n\n"
	msg := Decode([]byte(raw))

	assert.Equal(t, "first@example.com", msg.From)
	assert.Equal(t, "one", msg.Subject)
	assert.Equal(t, "a@example.com", msg.To)
}

func TestDecode_NoSeparator(t *testing.T) {
	msg := Decode([]byte("From: a@example.com\nSubject: headers only"))

	assert.Equal(t, "a@example.com", msg.From)
	assert.Equal(t, "headers only", msg.Subject)
	assert.Equal(t, "", msg.Body)
}

func TestDecode_Empty(t *testing.T) {
	msg := Decode(nil)

	assert.Empty(t, msg.From)
	assert.Empty(t, msg.Body)
	assert.NotNil(t, msg.Cc)
	assert.NotNil(t, msg.Headers)
}

func TestDecode_LineWithoutColonIgnored(t *testing.T) {
	msg := Decode([]byte("garbage line\nSubject: ok\n\nbody"))

	assert.Equal(t, "ok", msg.Subject)
	assert.Empty(t, msg.Headers)
	assert.Equal(t, "body", msg.Body)
}

func TestDecode_EncodedWords(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  string
	}{
		{
			name:  "round trip of B encoding",
			value: mime.BEncoding.Encode("utf-8", "Ævar Arnfjörð"),
			want:  "Ævar Arnfjörð",
		},
		{
			name:  "Q encoding in latin-1",
			value: "=?ISO-8859-1?Q?Andr=E9?= Pirard <PIRARD@vm1.ulg.ac.be>",
			want:  "André Pirard <PIRARD@vm1.ulg.ac.be>",
		},
		{
			name:  "adjacent words are joined",
			value: "=?utf-8?Q?a?= =?utf-8?Q?b?=",
			want:  "ab",
		},
		{
			name:  "plain text between words is kept",
			value: "=?utf-8?Q?a?= and =?utf-8?Q?b?=",
			want:  "a and b",
		},
		{
			name:  "malformed word stays literal",
			value: "=?utf-8?B?!!!?= Bjarmason",
			want:  "=?utf-8?B?!!!?= Bjarmason",
		},
		{
			name:  "unknown charset stays literal",
			value: "=?x-unknown?Q?abc?=",
			want:  "=?x-unknown?Q?abc?=",
		},
		{
			name:  "no encoded words",
			value: "[PATCH] plain subject",
			want:  "[PATCH] plain subject",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := Decode([]byte("Subject: " + tt.value + "\n\n"))
			assert.Equal(t, tt.want, msg.Subject)
		})
	}
}

func TestDecode_QuotedPrintable(t *testing.T) {
	body := "Test the various length utf-8 characters.\n" +
		"=31=32=33=34\n" +
		"two byte /=[CDcd][0-9A-Fa-f]/=c2=a9\n" +
		"three byte /=[Ee][0-9A-Fa-f]/=e1=99=ad\n" +
		"four byte /=[Ff][0-7]/=f0=90=8d=88\n"
	msg := Decode([]byte(withBody("quoted-printable", "text/plain; charset=UTF-8", body)))

	assert.Equal(t, "Test the various length utf-8 characters.\n"+
		"1234\n"+
		"two byte /=[CDcd][0-9A-Fa-f]/©\n"+
		"three byte /=[Ee][0-9A-Fa-f]/᙭\n"+
		"four byte /=[Ff][0-7]/𐍈\n", msg.Body)
}

func TestDecode_QuotedPrintableASCII(t *testing.T) {
	msg := Decode([]byte(withBody("quoted-printable", "text/plain", "have included in git.git.\n=31=32=33=34\n")))
	assert.Contains(t, msg.Body, "1234")
}

func TestDecode_QuotedPrintableSoftBreaks(t *testing.T) {
	msg := Decode([]byte(withBody("Quoted-Printable", "text/plain", "soft=\nbreak=  \r\nwith padding, trailing =")))
	assert.Equal(t, "softbreakwith padding, trailing ", msg.Body)
}

func TestDecode_QuotedPrintableLatin1(t *testing.T) {
	msg := Decode([]byte(withBody("quoted-printable", `text/plain; charset="iso-8859-1"`, "caf=E9\n")))
	assert.Equal(t, "café\n", msg.Body)
}

func TestDecode_Base64(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString([]byte("Base 64 Data"))
	msg := Decode([]byte(withBody("BaSe64", "text/plain; charset=UTF-8", encoded)))
	assert.Equal(t, "Base 64 Data", msg.Body)
}

func TestDecode_Base64Wrapped(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString([]byte(strings.Repeat("patch line\n", 10)))
	wrapped := encoded[:40] + "\r\n" + encoded[40:80] + "\n" + encoded[80:]
	msg := Decode([]byte(withBody("base64", "text/plain", wrapped)))
	assert.Equal(t, strings.Repeat("patch line\n", 10), msg.Body)
}

func TestDecode_Base64Unpadded(t *testing.T) {
	encoded := base64.RawStdEncoding.EncodeToString([]byte("ab"))
	msg := Decode([]byte(withBody("base64", "text/plain", encoded)))
	assert.Equal(t, "ab", msg.Body)
}

func TestDecode_Base64Invalid(t *testing.T) {
	msg := Decode([]byte(withBody("base64", "text/plain", "not*base64")))
	assert.Equal(t, "not*base64", msg.Body)
}

func TestDecode_EmptyBody(t *testing.T) {
	msg := Decode([]byte(withBody("BaSe64", "text/plain; charset=UTF-8", "")))
	assert.Equal(t, "", msg.Body)
}

func TestDecode_UnknownEncodingPassesThrough(t *testing.T) {
	msg := Decode([]byte(withBody("x-uuencode", "text/plain", "=31 raw")))
	assert.Equal(t, "=31 raw", msg.Body)
}

func TestDecode_HashDiffersPerMessage(t *testing.T) {
	a := Decode([]byte(coverLetter))
	b := Decode([]byte(coverLetter + "\n"))
	require.NotEmpty(t, a.Hash)
	assert.NotEqual(t, a.Hash, b.Hash)
	assert.Equal(t, a.Hash, Decode([]byte(coverLetter)).Hash)
}
