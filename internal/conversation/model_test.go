package conversation

import (
	"strings"
	"testing"
)

func TestAdvanceHappyPath(t *testing.T) {
	c := NewContext("chat-1")
	c.Advance()
	if c.State != StateGreeting {
		t.Fatalf("expected greeting after first message, got %s", c.State)
	}
	c.SetUserName("Иван")
	c.Advance()
	if c.State != StateNameCollected {
		t.Fatalf("expected name_collected, got %s", c.State)
	}
	c.SetNeed("нужен бот", "")
	c.Advance()
	if c.State != StateNeedIdentified {
		t.Fatalf("expected need_identified, got %s", c.State)
	}
	c.SetPhone("+79161234567")
	c.Advance()
	if c.State != StatePhoneCollected {
		t.Fatalf("expected phone_collected, got %s", c.State)
	}
	if !c.HasRequiredData() {
		t.Fatal("phone and pain point collected, HasRequiredData must hold")
	}
}

func TestAdvanceSkipsNameWhenNeedArrivesFirst(t *testing.T) {
	c := NewContext("chat-1")
	c.State = StateGreeting
	c.SetNeed("хочу автоматизировать ответы", "чат-бот")
	c.Advance()
	if c.State != StateNeedIdentified {
		t.Fatalf("expected shortcut to need_identified, got %s", c.State)
	}
}

func TestAdvanceNeverRegresses(t *testing.T) {
	c := NewContext("chat-1")
	c.State = StateNeedIdentified
	c.Advance()
	if c.State != StateNeedIdentified {
		t.Fatalf("state moved without new data: %s", c.State)
	}
}

func TestFieldsAreWriteOnce(t *testing.T) {
	c := NewContext("chat-1")
	if !c.SetUserName("Иван") {
		t.Fatal("first SetUserName should apply")
	}
	if c.SetUserName("Пётр") {
		t.Fatal("second SetUserName should be rejected")
	}
	if c.UserName != "Иван" {
		t.Fatalf("name overwritten: %s", c.UserName)
	}
	if !c.SetPhone("+79161234567") {
		t.Fatal("first SetPhone should apply")
	}
	if c.SetPhone("+79990000000") {
		t.Fatal("second SetPhone should be rejected")
	}
}

func TestSetNeedFillsProductInterestLater(t *testing.T) {
	c := NewContext("chat-1")
	c.SetNeed("нужен бот", "")
	if !c.SetNeed("другая боль", "чат-бот") {
		t.Fatal("expected product interest to be filled")
	}
	if c.PainPoint != "нужен бот" {
		t.Fatalf("pain point overwritten: %s", c.PainPoint)
	}
	if c.ProductInterest != "чат-бот" {
		t.Fatalf("product interest not set: %s", c.ProductInterest)
	}
}

func TestHistoryTextWindow(t *testing.T) {
	c := NewContext("chat-1")
	c.AddMessage(RoleUser, "первое")
	c.AddMessage(RoleBot, "второе")
	c.AddMessage(RoleUser, "третье")

	got := c.HistoryText(2)
	if strings.Contains(got, "первое") {
		t.Fatalf("window of 2 should drop the oldest message: %q", got)
	}
	if !strings.Contains(got, "Бот: второе") || !strings.Contains(got, "Клиент: третье") {
		t.Fatalf("unexpected history rendering: %q", got)
	}
	if full := c.HistoryText(0); !strings.Contains(full, "первое") {
		t.Fatalf("full history missing first message: %q", full)
	}
}
