package skill

import "testing"

func TestValidateRejectsUnsupportedLanguage(t *testing.T) {
	s := &Skill{SkillID: "x", Language: "cobol", Version: "1.0.0", DefaultTimeoutSeconds: 10}
	if err := s.Validate(); err == nil {
		t.Fatal("expected error for unsupported language")
	}
}

func TestValidateRejectsBadSemver(t *testing.T) {
	s := &Skill{SkillID: "x", Language: LanguageGo, Version: "not-a-version", DefaultTimeoutSeconds: 10}
	if err := s.Validate(); err == nil {
		t.Fatal("expected error for invalid semver")
	}
}

func TestValidateRejectsTimeoutOutOfRange(t *testing.T) {
	s := &Skill{SkillID: "x", Language: LanguageGo, Version: "1.0.0", DefaultTimeoutSeconds: MaxTimeoutSeconds + 1}
	if err := s.Validate(); err == nil {
		t.Fatal("expected error for timeout above max")
	}
}

func TestValidateAcceptsWellFormedSkill(t *testing.T) {
	s := &Skill{SkillID: "x", Language: LanguagePython, Version: "1.2.3", DefaultTimeoutSeconds: 30}
	if err := s.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEffectiveTimeoutPrefersSmallerOfRequestedAndDefault(t *testing.T) {
	s := &Skill{DefaultTimeoutSeconds: 60}
	if got := s.EffectiveTimeout(10); got != 10 {
		t.Fatalf("want 10, got %d", got)
	}
	if got := s.EffectiveTimeout(120); got != 60 {
		t.Fatalf("want 60 (default), got %d", got)
	}
	if got := s.EffectiveTimeout(0); got != 60 {
		t.Fatalf("zero requested means use default, want 60 got %d", got)
	}
}

func TestEffectiveTimeoutClampsToBounds(t *testing.T) {
	s := &Skill{DefaultTimeoutSeconds: MinTimeoutSeconds}
	if got := s.EffectiveTimeout(0); got < MinTimeoutSeconds {
		t.Fatalf("must never go below MinTimeoutSeconds, got %d", got)
	}
}

func TestNewerThanComparesSemver(t *testing.T) {
	older := &Skill{Version: "1.0.0"}
	newer := &Skill{Version: "1.1.0"}

	ok, err := newer.NewerThan(older)
	if err != nil || !ok {
		t.Fatalf("expected 1.1.0 newer than 1.0.0, got ok=%v err=%v", ok, err)
	}
	ok, err = older.NewerThan(newer)
	if err != nil || ok {
		t.Fatalf("expected 1.0.0 not newer than 1.1.0, got ok=%v err=%v", ok, err)
	}
}

func TestDecodeCodeRejectsMalformedBase64(t *testing.T) {
	if _, err := DecodeCode("not base64!!"); err == nil {
		t.Fatal("expected error decoding malformed base64")
	}
}
